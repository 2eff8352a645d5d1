package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

const zshrcHeader = "# Generated by archstrap"

var zshPlugins = []struct {
	name string
	repo string
}{
	{"zsh-autosuggestions", "https://github.com/zsh-users/zsh-autosuggestions.git"},
	{"zsh-syntax-highlighting", "https://github.com/zsh-users/zsh-syntax-highlighting.git"},
}

// OhMyZsh clones oh-my-zsh into the user's home.
func (d *Deps) OhMyZsh() engine.Descriptor {
	return engine.Descriptor{
		Key:       "ohmyzsh",
		Name:      "Install oh-my-zsh",
		Order:     OrderOhMyZsh,
		NeedsUser: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			return dirExists(filepath.Join(rc.UserHome, ".oh-my-zsh")), "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}
			dest := filepath.Join(rc.UserHome, ".oh-my-zsh")
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{
					"git", "clone", "--depth=1",
					"https://github.com/ohmyzsh/ohmyzsh.git", dest,
				},
				Env:    proxyEnv(rc),
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			out.Note("oh-my-zsh installed")
			return out, nil
		},
	}
}

// ZshPlugins clones the zsh plugin repositories into the oh-my-zsh custom
// plugin directory. Parallel-safe: each clone touches only its own
// directory.
func (d *Deps) ZshPlugins() engine.Descriptor {
	pluginDir := func(rc *engine.RunContext, name string) string {
		return filepath.Join(rc.UserHome, ".oh-my-zsh", "custom", "plugins", name)
	}
	return engine.Descriptor{
		Key:          "zshplugins",
		Name:         "Install zsh plugins",
		Order:        OrderZshPlugins,
		NeedsUser:    true,
		ParallelSafe: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			for _, p := range zshPlugins {
				if !dirExists(pluginDir(rc, p.name)) {
					return false, "", nil
				}
			}
			return true, "plugins already installed", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			for _, p := range zshPlugins {
				dest := pluginDir(rc, p.name)
				if dirExists(dest) {
					continue
				}
				_, err := d.Runner.Run(ctx, runner.Command{
					Argv:   []string{"git", "clone", "--depth=1", p.repo, dest},
					Env:    proxyEnv(rc),
					AsUser: rc.Username,
				})
				if err != nil {
					return nil, err
				}
				out.Note("installed %s", p.name)
			}
			return out, nil
		},
	}
}

// Zshrc writes the user's .zshrc wired for oh-my-zsh and the installed
// plugins, backing up any existing unmanaged file.
func (d *Deps) Zshrc() engine.Descriptor {
	return engine.Descriptor{
		Key:       "zshrc",
		Name:      "Write .zshrc",
		Order:     OrderZshrc,
		NeedsUser: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			data, err := os.ReadFile(filepath.Join(rc.UserHome, ".zshrc"))
			if err != nil {
				if os.IsNotExist(err) {
					return false, "", nil
				}
				return false, "", err
			}
			if strings.Contains(string(data), zshrcHeader) {
				return true, ".zshrc already managed", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			path := filepath.Join(rc.UserHome, ".zshrc")
			if err := backupFile(path); err != nil {
				return nil, engine.NewFatalError("cannot back up .zshrc", err)
			}
			if err := os.WriteFile(path, []byte(zshrcContent()), 0644); err != nil {
				return nil, engine.NewFatalError("cannot write .zshrc", err)
			}
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{"chown", rc.Username + ":" + rc.Username, path},
			})
			if err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			out.Note(".zshrc written")
			return out, nil
		},
	}
}

// zshrcContent renders the managed .zshrc.
func zshrcContent() string {
	names := make([]string, 0, len(zshPlugins)+1)
	names = append(names, "git")
	for _, p := range zshPlugins {
		names = append(names, p.name)
	}
	return fmt.Sprintf(`%s
export ZSH="$HOME/.oh-my-zsh"
ZSH_THEME="robbyrussell"
plugins=(%s)
source $ZSH/oh-my-zsh.sh
`, zshrcHeader, strings.Join(names, " "))
}

// dirExists reports whether path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
