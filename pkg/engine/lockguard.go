package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultPkgLockPath is the pacman database lock marker.
const DefaultPkgLockPath = "/var/lib/pacman/db.lck"

// LockGuard serializes access to the shared package database and clears
// stale lock markers left behind by dead processes. Before a resource-
// mutating step runs, the guard inspects the marker: absent means proceed;
// present with a dead holder means remove it, warn and proceed; present with
// a live holder means fail the step with a resource-busy error instead of
// blocking the run.
//
// The guard's mutex is also what enforces the conservative serialization of
// every MutatesPkgDB step, regardless of their ParallelSafe flags.
type LockGuard struct {
	mu sync.Mutex

	// path is the lock marker file.
	path string

	// procDir is where holder liveness is probed ("/proc" outside tests).
	procDir string

	// onRecovery, when set, is called after a stale marker is removed.
	onRecovery func()

	log zerolog.Logger
}

// NewLockGuard creates a guard for the given lock marker path.
func NewLockGuard(path string, log zerolog.Logger) *LockGuard {
	if path == "" {
		path = DefaultPkgLockPath
	}
	return &LockGuard{
		path:    path,
		procDir: "/proc",
		log:     log.With().Str("component", "lockguard").Logger(),
	}
}

// WithProcDir overrides the process liveness probe directory. Used in tests.
func (g *LockGuard) WithProcDir(dir string) *LockGuard {
	g.procDir = dir
	return g
}

// WithRecoveryHook registers a callback invoked after each stale lock
// removal. The metrics collector hangs off this.
func (g *LockGuard) WithRecoveryHook(fn func()) *LockGuard {
	g.onRecovery = fn
	return g
}

// Acquire takes the serialization mutex and clears or reports the on-disk
// lock marker. On success the caller holds the guard and must Release it.
// A live holder yields a resource-busy error naming the contending PID and
// the guard is not held.
func (g *LockGuard) Acquire(ctx context.Context) error {
	g.mu.Lock()

	if err := g.inspect(); err != nil {
		g.mu.Unlock()
		return err
	}
	return nil
}

// Release gives up the serialization mutex.
func (g *LockGuard) Release() {
	g.mu.Unlock()
}

// inspect examines the lock marker, removing it when stale.
func (g *LockGuard) inspect() error {
	content, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewFatalError("cannot read package database lock", err)
	}

	pid, ok := parseHolderPID(string(content))
	if ok && g.holderAlive(pid) {
		return NewResourceBusyError(
			fmt.Sprintf("package database locked by running process %d", pid), nil).
			WithDetail("pid", pid).
			WithDetail("lock", g.path)
	}

	// No parseable holder, or the holder is dead: the lock is stale.
	if err := os.Remove(g.path); err != nil {
		return NewFatalError("cannot remove stale package database lock", err)
	}
	g.log.Warn().
		Str("lock", g.path).
		Int("holder_pid", pid).
		Msg("removed stale package database lock")
	if g.onRecovery != nil {
		g.onRecovery()
	}
	return nil
}

// holderAlive reports whether the recorded holder process still exists.
func (g *LockGuard) holderAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(filepath.Join(g.procDir, strconv.Itoa(pid)))
	return err == nil
}

// parseHolderPID extracts the holder PID from the marker content. pacman
// writes the PID as the file's first line; an empty or malformed marker has
// no identifiable holder.
func parseHolderPID(content string) (int, bool) {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	pid, err := strconv.Atoi(line)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
