package steps

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

const (
	mirrorlistPath   = "/etc/pacman.d/mirrorlist"
	mirrorlistHeader = "# Generated by archstrap"
)

// Mirrors configures the pacman mirror list. With explicit mirrors in the
// context it writes them directly; otherwise it ranks regional mirrors with
// reflector. Skipped entirely unless the context asks for mirror setup.
func (d *Deps) Mirrors() engine.Descriptor {
	return engine.Descriptor{
		Key:   "mirrors",
		Name:  "Configure package mirrors",
		Order: OrderMirrors,
		Applicable: func(rc *engine.RunContext) bool {
			return rc.EnableRegionalMirrors || len(rc.Mirrors) > 0
		},
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			data, err := os.ReadFile(d.path(mirrorlistPath))
			if err != nil {
				if os.IsNotExist(err) {
					return false, "", nil
				}
				return false, "", err
			}
			if strings.Contains(string(data), mirrorlistHeader) {
				return true, "mirror list already managed", nil
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			path := d.path(mirrorlistPath)
			if err := backupFile(path); err != nil {
				return nil, engine.NewFatalError("cannot back up mirror list", err)
			}

			if len(rc.Mirrors) > 0 {
				var b strings.Builder
				b.WriteString(mirrorlistHeader + "\n")
				for _, m := range rc.Mirrors {
					fmt.Fprintf(&b, "Server = %s/$repo/os/$arch\n", strings.TrimRight(m, "/"))
				}
				if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
					return nil, engine.NewFatalError("cannot write mirror list", err)
				}
				out := &engine.Outcome{}
				out.Note("wrote %d mirrors", len(rc.Mirrors))
				return out, nil
			}

			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{
					"reflector", "--protocol", "https", "--latest", "20",
					"--sort", "rate", "--save", path,
				},
			})
			if err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			out.Note("ranked regional mirrors")
			return out, nil
		},
	}
}

// backupFile copies an existing file aside before it is overwritten. A
// missing file needs no backup.
func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path+".bak", data, 0644)
}
