package steps

import (
	"context"
	"fmt"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

// SystemUpdate refreshes the package databases and upgrades the system.
// Critical: nothing later can be trusted on a half-upgraded base.
func (d *Deps) SystemUpdate() engine.Descriptor {
	return engine.Descriptor{
		Key:          "update",
		Name:         "System update",
		Order:        OrderSystemUpdate,
		MutatesPkgDB: true,
		Critical:     true,
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: []string{"pacman", "-Syu", "--noconfirm"},
				Env:  proxyEnv(rc),
			})
			if err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			out.Note("system upgraded")
			return out, nil
		},
	}
}

// BasePackagesStep installs the required package set.
func (d *Deps) BasePackagesStep() engine.Descriptor {
	return d.installStep("basepkgs", "Install base packages", OrderBasePackages, false,
		func() []string { return d.BasePackages })
}

// OptionalPackagesStep installs the optional package set. Parallel-safe:
// the lock guard still serializes it against other package-database steps,
// but it may overlap non-mutating batch siblings.
func (d *Deps) OptionalPackagesStep() engine.Descriptor {
	desc := d.installStep("optpkgs", "Install optional packages", OrderOptionalPackages, true,
		func() []string { return d.OptionalPackages })
	desc.Applicable = func(rc *engine.RunContext) bool {
		return len(d.OptionalPackages) > 0
	}
	return desc
}

// installStep builds a pacman install step over a package list.
func (d *Deps) installStep(key, name string, order int, parallelSafe bool, pkgs func() []string) engine.Descriptor {
	return engine.Descriptor{
		Key:          key,
		Name:         name,
		Order:        order,
		MutatesPkgDB: true,
		ParallelSafe: parallelSafe,
		Satisfied: func(ctx context.Context, rc *engine.RunContext) (bool, string, error) {
			list := pkgs()
			if len(list) == 0 {
				return true, "no packages requested", nil
			}
			// pacman -T exits non-zero when any listed package is missing.
			res, err := d.Runner.Run(ctx, runner.Command{
				Argv: append([]string{"pacman", "-T"}, list...),
			})
			if err == nil {
				return true, "all packages installed", nil
			}
			if res != nil && res.ExitCode == 127 {
				return false, "", fmt.Errorf("pacman not found")
			}
			return false, "", nil
		},
		Execute: func(ctx context.Context, rc *engine.RunContext) (*engine.Outcome, error) {
			list := pkgs()
			if err := d.checkNetwork(ctx); err != nil {
				return nil, err
			}
			_, err := d.Runner.Run(ctx, runner.Command{
				Argv: append([]string{"pacman", "-S", "--needed", "--noconfirm"}, list...),
				Env:  proxyEnv(rc),
			})
			if err != nil {
				return nil, err
			}
			out := &engine.Outcome{}
			out.Note("installed %d packages", len(list))
			return out, nil
		},
	}
}

// proxyEnv returns the proxy environment for download-heavy commands.
func proxyEnv(rc *engine.RunContext) map[string]string {
	if rc.Proxy == "" {
		return nil
	}
	return map[string]string{
		"http_proxy":  rc.Proxy,
		"https_proxy": rc.Proxy,
		"HTTP_PROXY":  rc.Proxy,
		"HTTPS_PROXY": rc.Proxy,
	}
}
