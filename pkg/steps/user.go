package steps

import (
	"context"
	"fmt"
	"os"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

const sudoersDropin = "/etc/sudoers.d/10-wheel"

// UserAccount creates the target user with a home directory, wheel group
// membership and the configured shell, and enables wheel sudo. Critical:
// every later user step depends on the account existing.
func (d *Deps) UserAccount() engine.Descriptor {
	return engine.Descriptor{
		Key:       "user",
		Name:      "Create user account",
		Order:     OrderUserAccount,
		NeedsUser: true,
		Critical:  true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			if d.commandOK(ctx, "id", "-u", rc.Username) {
				return true, "user already exists", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{
					"useradd", "-m", "-G", "wheel", "-s", rc.Shell, rc.Username,
				},
			})
			if err != nil {
				return nil, err
			}

			if rc.Credential.IsSet() {
				// The revealed credential only ever crosses through stdin;
				// the log sinks mask it regardless.
				_, err = d.Runner.Run(ctx, runner.Command{
					Argv:  []string{"chpasswd"},
					Stdin: fmt.Sprintf("%s:%s\n", rc.Username, rc.Credential.Reveal()),
				})
				if err != nil {
					return nil, err
				}
			}

			dropin := d.path(sudoersDropin)
			content := "%wheel ALL=(ALL:ALL) ALL\n"
			if err := os.WriteFile(dropin, []byte(content), 0440); err != nil {
				return nil, engine.NewFatalError("cannot write sudoers drop-in", err)
			}

			out := &engine.Outcome{Derived: map[string]string{"home": rc.UserHome}}
			out.Note("created user %s", rc.Username)
			return out, nil
		},
	}
}

// WSLConf writes /etc/wsl.conf enabling systemd and setting the default
// login user.
func (d *Deps) WSLConf() engine.Descriptor {
	return engine.Descriptor{
		Key:       "wslconf",
		Name:      "Configure WSL",
		Order:     OrderWSLConf,
		NeedsUser: true,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			data, err := os.ReadFile(d.path("/etc/wsl.conf"))
			if err != nil {
				if os.IsNotExist(err) {
					return false, "", nil
				}
				return false, "", err
			}
			if string(data) == wslConfContent(rc) {
				return true, "wsl.conf already configured", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			path := d.path("/etc/wsl.conf")
			if err := backupFile(path); err != nil {
				return nil, engine.NewFatalError("cannot back up wsl.conf", err)
			}
			if err := os.WriteFile(path, []byte(wslConfContent(rc)), 0644); err != nil {
				return nil, engine.NewFatalError("cannot write wsl.conf", err)
			}
			out := &engine.Outcome{}
			out.Note("wsl.conf written")
			return out, nil
		},
	}
}

// wslConfContent renders the target wsl.conf.
func wslConfContent(rc *engine.RunContext) string {
	systemd := "false"
	if rc.EnableSystemd {
		systemd = "true"
	}
	return fmt.Sprintf("[boot]\nsystemd=%s\n\n[user]\ndefault=%s\n", systemd, rc.Username)
}
