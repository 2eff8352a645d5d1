package steps

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

// Batch order values. Steps sharing a value run in the same batch.
const (
	OrderMirrors          = 5
	OrderSystemUpdate     = 10
	OrderBasePackages     = 11
	OrderOptionalPackages = 12
	OrderUserAccount      = 20
	OrderWSLConf          = 21
	OrderOhMyZsh          = 30
	OrderZshPlugins       = 31
	OrderZshrc            = 32
	OrderYay              = 40
	OrderConda            = 41
	OrderGitHub           = 50
)

// Deps holds the collaborators the concrete steps share.
type Deps struct {
	// Runner executes external commands.
	Runner runner.Runner

	// Cleanup collects temporary paths removed when a run is cancelled
	// or aborted.
	Cleanup *engine.CleanupManager

	// Log is the step logger.
	Log zerolog.Logger

	// BasePackages and OptionalPackages are the package lists for the
	// install steps.
	BasePackages     []string
	OptionalPackages []string

	// ProbeAddr and ProbeTimeout configure the connectivity probe run
	// before network-heavy steps.
	ProbeAddr    string
	ProbeTimeout time.Duration

	// Root prefixes absolute system paths like /etc. Empty outside tests.
	Root string
}

// All returns every provisioning step in registration order.
func All(d *Deps) []engine.Descriptor {
	return []engine.Descriptor{
		d.Mirrors(),
		d.SystemUpdate(),
		d.BasePackagesStep(),
		d.OptionalPackagesStep(),
		d.UserAccount(),
		d.WSLConf(),
		d.OhMyZsh(),
		d.ZshPlugins(),
		d.Zshrc(),
		d.Yay(),
		d.Conda(),
		d.GitHub(),
	}
}

// path resolves an absolute system path under the configured root.
func (d *Deps) path(p string) string {
	if d.Root == "" {
		return p
	}
	return filepath.Join(d.Root, p)
}

// commandOK reports whether argv runs successfully. Used by idempotency
// probes where a non-zero exit simply means "not satisfied".
func (d *Deps) commandOK(ctx context.Context, argv ...string) bool {
	_, err := d.Runner.Run(ctx, runner.Command{Argv: argv})
	return err == nil
}

// checkNetwork probes connectivity before a download-heavy execution. The
// returned error is transient so the retry policy gets a chance.
func (d *Deps) checkNetwork(ctx context.Context) error {
	return runner.CheckConnectivity(ctx, d.ProbeAddr, d.ProbeTimeout)
}
