package steps

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/archstrap/archstrap/pkg/engine"
	"github.com/archstrap/archstrap/pkg/runner"
)

// fakeRunner scripts command outcomes by argv prefix and records every call.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []runner.Command
	failures map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failures: make(map[string]error)}
}

func (f *fakeRunner) failOn(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[prefix] = err
}

func (f *fakeRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	joined := strings.Join(cmd.Argv, " ")
	for prefix, err := range f.failures {
		if strings.HasPrefix(joined, prefix) {
			return &runner.Result{ExitCode: 1}, err
		}
	}
	return &runner.Result{}, nil
}

func (f *fakeRunner) commandLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = strings.Join(c.Argv, " ")
	}
	return lines
}

func (f *fakeRunner) find(prefix string) *runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.calls {
		if strings.HasPrefix(strings.Join(f.calls[i].Argv, " "), prefix) {
			return &f.calls[i]
		}
	}
	return nil
}

// testProbeListener serves the connectivity probe locally so step tests
// never touch the real network.
func testProbeListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func testDeps(t *testing.T, r runner.Runner) *Deps {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"etc/pacman.d", "etc/sudoers.d"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return &Deps{
		Runner:           r,
		Cleanup:          engine.NewCleanupManager(),
		Log:              zerolog.Nop(),
		BasePackages:     []string{"git", "zsh"},
		OptionalPackages: []string{"htop"},
		ProbeAddr:        testProbeListener(t),
		ProbeTimeout:     time.Second,
		Root:             root,
	}
}

func testRC(t *testing.T) *engine.RunContext {
	t.Helper()
	home := t.TempDir()
	return &engine.RunContext{
		Username:      "dev",
		Credential:    engine.Secret("hunter2"),
		Shell:         "/usr/bin/zsh",
		UserHome:      home,
		EnableSystemd: true,
		WorkDir:       t.TempDir(),
	}
}

func TestAllStepsAreRegistrable(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	reg := engine.NewRegistry()
	if err := reg.RegisterAll(All(d)...); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if reg.Len() != 12 {
		t.Errorf("registered %d steps, want 12", reg.Len())
	}

	batches := reg.OrderedBatches()
	if batches[0].Steps[0].Key != "mirrors" {
		t.Errorf("first step = %s, want mirrors", batches[0].Steps[0].Key)
	}
	last := batches[len(batches)-1]
	if last.Steps[0].Key != "github" {
		t.Errorf("last step = %s, want github", last.Steps[0].Key)
	}
}

func TestMirrorsWritesExplicitList(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	step := d.Mirrors()
	rc := testRC(t)
	rc.Mirrors = []string{"https://mirror.one/archlinux", "https://mirror.two/archlinux/"}

	if !step.Applicable(rc) {
		t.Fatal("step should be applicable with explicit mirrors")
	}

	out, err := step.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(out.Notes) == 0 || !strings.Contains(out.Notes[0], "2 mirrors") {
		t.Errorf("notes = %v", out.Notes)
	}

	data, err := os.ReadFile(d.path(mirrorlistPath))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "Server = https://mirror.one/archlinux/$repo/os/$arch") {
		t.Errorf("mirrorlist content:\n%s", content)
	}
	if !strings.Contains(content, "Server = https://mirror.two/archlinux/$repo/os/$arch") {
		t.Errorf("trailing slash not trimmed:\n%s", content)
	}

	ok, note, err := step.Satisfied(context.Background(), rc)
	if err != nil || !ok {
		t.Errorf("satisfied after execute = %v/%v", ok, err)
	}
	if note == "" {
		t.Error("expected a probe note")
	}
}

func TestMirrorsNotApplicableByDefault(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	rc := testRC(t)
	if d.Mirrors().Applicable(rc) {
		t.Error("mirrors should be inapplicable without mirror config")
	}
}

func TestInstallStepProbeAndExecute(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.BasePackagesStep()
	rc := testRC(t)

	// All packages present: pacman -T succeeds.
	ok, note, err := step.Satisfied(context.Background(), rc)
	if err != nil || !ok {
		t.Fatalf("satisfied = %v/%v", ok, err)
	}
	if note != "all packages installed" {
		t.Errorf("note = %q", note)
	}

	// A missing package: pacman -T fails, probe says execute.
	fake.failOn("pacman -T", fmt.Errorf("exit status 1"))
	ok, _, err = step.Satisfied(context.Background(), rc)
	if err != nil || ok {
		t.Fatalf("satisfied with missing packages = %v/%v", ok, err)
	}

	out, err := step.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(out.Notes[0], "installed 2 packages") {
		t.Errorf("notes = %v", out.Notes)
	}
	if fake.find("pacman -S --needed --noconfirm git zsh") == nil {
		t.Errorf("install command missing: %v", fake.commandLines())
	}
}

func TestOptionalPackagesApplicability(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	rc := testRC(t)

	if !d.OptionalPackagesStep().Applicable(rc) {
		t.Error("applicable with a non-empty optional list")
	}
	d.OptionalPackages = nil
	if d.OptionalPackagesStep().Applicable(rc) {
		t.Error("inapplicable with an empty optional list")
	}
}

func TestUserAccountExecute(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.UserAccount()
	rc := testRC(t)

	out, err := step.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if fake.find("useradd -m -G wheel -s /usr/bin/zsh dev") == nil {
		t.Errorf("useradd command missing: %v", fake.commandLines())
	}
	chpasswd := fake.find("chpasswd")
	if chpasswd == nil {
		t.Fatal("chpasswd not called")
	}
	if chpasswd.Stdin != "dev:hunter2\n" {
		t.Errorf("chpasswd stdin = %q", chpasswd.Stdin)
	}

	data, err := os.ReadFile(d.path(sudoersDropin))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "%wheel") {
		t.Errorf("sudoers content = %q", data)
	}
	if out.Derived["home"] != rc.UserHome {
		t.Errorf("derived = %v", out.Derived)
	}
}

func TestUserAccountSkipsPasswordWhenUnset(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	rc := testRC(t)
	rc.Credential = ""

	if _, err := d.UserAccount().Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if fake.find("chpasswd") != nil {
		t.Error("chpasswd must not run without a credential")
	}
}

func TestWSLConfWriteAndProbe(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	step := d.WSLConf()
	rc := testRC(t)

	ok, _, err := step.Satisfied(context.Background(), rc)
	if err != nil || ok {
		t.Fatalf("fresh system should not be satisfied: %v/%v", ok, err)
	}

	if _, err := step.Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	data, err := os.ReadFile(d.path("/etc/wsl.conf"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "systemd=true") {
		t.Errorf("wsl.conf:\n%s", content)
	}
	if !strings.Contains(content, "default=dev") {
		t.Errorf("wsl.conf:\n%s", content)
	}

	ok, note, err := step.Satisfied(context.Background(), rc)
	if err != nil || !ok {
		t.Errorf("satisfied after execute = %v/%v", ok, err)
	}
	if note != "wsl.conf already configured" {
		t.Errorf("note = %q", note)
	}
}

func TestOhMyZshProbeAndClone(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.OhMyZsh()
	rc := testRC(t)

	ok, _, _ := step.Satisfied(context.Background(), rc)
	if ok {
		t.Fatal("missing directory should not be satisfied")
	}

	if _, err := step.Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	clone := fake.find("git clone --depth=1 https://github.com/ohmyzsh/ohmyzsh.git")
	if clone == nil {
		t.Fatalf("clone missing: %v", fake.commandLines())
	}
	if clone.AsUser != "dev" {
		t.Errorf("clone should run as the user, got %q", clone.AsUser)
	}

	if err := os.MkdirAll(filepath.Join(rc.UserHome, ".oh-my-zsh"), 0755); err != nil {
		t.Fatal(err)
	}
	if ok, _, _ := step.Satisfied(context.Background(), rc); !ok {
		t.Error("existing directory should be satisfied")
	}
}

func TestZshrcManagedMarker(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.Zshrc()
	rc := testRC(t)

	// An unmanaged .zshrc is backed up, not treated as satisfied.
	existing := filepath.Join(rc.UserHome, ".zshrc")
	if err := os.WriteFile(existing, []byte("# mine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ok, _, err := step.Satisfied(context.Background(), rc)
	if err != nil || ok {
		t.Fatalf("unmanaged file should not be satisfied: %v/%v", ok, err)
	}

	if _, err := step.Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	backup, err := os.ReadFile(existing + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "# mine\n" {
		t.Errorf("backup = %q", backup)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "zsh-autosuggestions") {
		t.Errorf(".zshrc = %q", data)
	}

	if ok, _, _ := step.Satisfied(context.Background(), rc); !ok {
		t.Error("managed file should be satisfied")
	}
}

func TestYayCleanupLifecycle(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.Yay()
	rc := testRC(t)

	// Build failure leaves the tree registered so a sweep can remove it.
	fake.failOn("makepkg", engine.NewFatalError("build failed", nil))
	if _, err := step.Execute(context.Background(), rc); err == nil {
		t.Fatal("expected build failure")
	}
	if d.Cleanup.Pending() != 1 {
		t.Errorf("pending cleanups = %d, want 1", d.Cleanup.Pending())
	}

	// Successful build forgets the path again.
	d.Cleanup.Sweep(zerolog.Nop())
	fake2 := newFakeRunner()
	d.Runner = fake2
	if _, err := step.Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if d.Cleanup.Pending() != 0 {
		t.Errorf("pending cleanups = %d, want 0", d.Cleanup.Pending())
	}
	if fake2.find("makepkg -si --noconfirm") == nil {
		t.Errorf("makepkg missing: %v", fake2.commandLines())
	}
}

func TestCondaProbe(t *testing.T) {
	d := testDeps(t, newFakeRunner())
	step := d.Conda()
	rc := testRC(t)

	if ok, _, _ := step.Satisfied(context.Background(), rc); ok {
		t.Fatal("missing conda binary should not be satisfied")
	}

	bin := filepath.Join(rc.UserHome, "miniconda3", "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "conda"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if ok, note, _ := step.Satisfied(context.Background(), rc); !ok || note != "conda already installed" {
		t.Errorf("satisfied = %v/%q", ok, note)
	}
}

func TestGitHubKeyGeneration(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	step := d.GitHub()
	rc := testRC(t)

	out, err := step.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	keygen := fake.find("ssh-keygen -t ed25519")
	if keygen == nil {
		t.Fatalf("ssh-keygen missing: %v", fake.commandLines())
	}
	if keygen.AsUser != "dev" {
		t.Errorf("keygen should run as the user, got %q", keygen.AsUser)
	}
	if !strings.HasSuffix(out.Derived["public_key"], ".pub") {
		t.Errorf("derived = %v", out.Derived)
	}

	key := filepath.Join(rc.UserHome, ".ssh", "id_ed25519")
	if err := os.MkdirAll(filepath.Dir(key), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(key, []byte("key"), 0600); err != nil {
		t.Fatal(err)
	}
	if ok, _, _ := step.Satisfied(context.Background(), rc); !ok {
		t.Error("existing key should be satisfied")
	}
}

func TestProxyEnvInjection(t *testing.T) {
	fake := newFakeRunner()
	d := testDeps(t, fake)
	rc := testRC(t)
	rc.Proxy = "http://proxy:3128"

	if _, err := d.SystemUpdate().Execute(context.Background(), rc); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	cmd := fake.find("pacman -Syu")
	if cmd == nil {
		t.Fatal("pacman -Syu missing")
	}
	if cmd.Env["https_proxy"] != "http://proxy:3128" {
		t.Errorf("env = %v", cmd.Env)
	}
}
