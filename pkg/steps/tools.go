package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

const minicondaURL = "https://repo.anaconda.com/miniconda/Miniconda3-latest-Linux-x86_64.sh"

// Yay builds and installs the yay AUR helper from source. The build tree
// lives under the work directory and is registered for cleanup, so a
// cancelled run does not strand a half-built checkout. Installing the built
// package mutates the package database.
func (d *Deps) Yay() engine.Descriptor {
	return engine.Descriptor{
		Key:          "yay",
		Name:         "Install yay AUR helper",
		Order:        OrderYay,
		NeedsUser:    true,
		MutatesPkgDB: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			if d.commandOK(ctx, "yay", "--version") {
				return true, "yay already installed", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}

			// Registered before the clone so a cancelled run sweeps the
			// partial tree; forgotten only after the successful removal
			// below.
			buildDir := filepath.Join(rc.WorkDir, "yay")
			d.Cleanup.Register(buildDir, "yay build tree")

			if err := os.RemoveAll(buildDir); err != nil {
				return nil, engine.NewFatalError("cannot clear yay build tree", err)
			}
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv:   []string{"git", "clone", "--depth=1", "https://aur.archlinux.org/yay.git", buildDir},
				Env:    proxyEnv(rc),
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}

			_, err = d.Runner.Run(ctx, runner.Command{
				Argv:   []string{"makepkg", "-si", "--noconfirm"},
				Dir:    buildDir,
				Env:    proxyEnv(rc),
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}

			if err := os.RemoveAll(buildDir); err != nil {
				d.Log.Warn().Err(err).Str("path", buildDir).Msg("could not remove build tree")
			}
			d.Cleanup.Forget(buildDir)
			out := &engine.Outcome{}
			out.Note("yay installed")
			return out, nil
		},
	}
}

// Conda installs Miniconda into the user's home. Parallel-safe: it touches
// only the work directory and the conda prefix.
func (d *Deps) Conda() engine.Descriptor {
	condaBin := func(rc *engine.RunContext) string {
		return filepath.Join(rc.UserHome, "miniconda3", "bin", "conda")
	}
	return engine.Descriptor{
		Key:          "conda",
		Name:         "Install Miniconda",
		Order:        OrderConda,
		NeedsUser:    true,
		ParallelSafe: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			if _, err := os.Stat(condaBin(rc)); err == nil {
				return true, "conda already installed", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}

			installer := filepath.Join(rc.WorkDir, "miniconda.sh")
			d.Cleanup.Register(installer, "miniconda installer")

			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{"curl", "-fsSL", "-o", installer, minicondaURL},
				Env:  proxyEnv(rc),
			})
			if err != nil {
				return nil, err
			}

			prefix := filepath.Join(rc.UserHome, "miniconda3")
			_, err = d.Runner.Run(ctx, runner.Command{
				Argv:   []string{"bash", installer, "-b", "-p", prefix},
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}

			if err := os.Remove(installer); err != nil && !os.IsNotExist(err) {
				d.Log.Warn().Err(err).Str("path", installer).Msg("could not remove installer")
			}
			d.Cleanup.Forget(installer)

			out := &engine.Outcome{Derived: map[string]string{"conda_prefix": prefix}}
			out.Note("miniconda installed")
			return out, nil
		},
	}
}

// GitHub prepares the user for GitHub access: a dedicated ed25519 SSH key
// and sensible git defaults. The public key is surfaced through the derived
// values so the report can point the user at it.
func (d *Deps) GitHub() engine.Descriptor {
	keyPath := func(rc *engine.RunContext) string {
		return filepath.Join(rc.UserHome, ".ssh", "id_ed25519")
	}
	return engine.Descriptor{
		Key:       "github",
		Name:      "Set up GitHub access",
		Order:     OrderGitHub,
		NeedsUser: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			if _, err := os.Stat(keyPath(rc)); err == nil {
				return true, "SSH key already present", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			sshDir := filepath.Join(rc.UserHome, ".ssh")
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{"install", "-d", "-m", "700", "-o", rc.Username, sshDir},
			})
			if err != nil {
				return nil, err
			}

			key := keyPath(rc)
			_, err = d.Runner.Run(ctx, runner.Command{
				Argv: []string{
					"ssh-keygen", "-t", "ed25519", "-N", "", "-f", key,
					"-C", fmt.Sprintf("%s@archstrap", rc.Username),
				},
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}

			_, err = d.Runner.Run(ctx, runner.Command{
				Argv:   []string{"git", "config", "--global", "init.defaultBranch", "main"},
				AsUser: rc.Username,
			})
			if err != nil {
				return nil, err
			}

			out := &engine.Outcome{Derived: map[string]string{"public_key": key + ".pub"}}
			out.Note("SSH key generated")
			return out, nil
		},
	}
}
