package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeLock(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "db.lck")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAcquireWithoutLockFile(t *testing.T) {
	guard := NewLockGuard(filepath.Join(t.TempDir(), "db.lck"), zerolog.Nop()).
		WithProcDir(t.TempDir())

	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	guard.Release()
}

func TestAcquireRemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	// PID 4242 has no entry in the fake proc dir, so the holder is dead.
	path := writeLock(t, dir, "4242\n")

	recovered := false
	guard := NewLockGuard(path, zerolog.Nop()).
		WithProcDir(t.TempDir()).
		WithRecoveryHook(func() { recovered = true })

	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	guard.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale lock file should be removed")
	}
	if !recovered {
		t.Error("recovery hook not invoked")
	}
}

func TestAcquireFailsWithLiveHolder(t *testing.T) {
	dir := t.TempDir()
	path := writeLock(t, dir, "4242\n")

	procDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(procDir, "4242"), 0755); err != nil {
		t.Fatal(err)
	}

	guard := NewLockGuard(path, zerolog.Nop()).WithProcDir(procDir)

	err := guard.Acquire(context.Background())
	if !IsResourceBusy(err) {
		t.Fatalf("expected resource busy, got %v", err)
	}

	var se *StepError
	if !errors.As(err, &se) {
		t.Fatal("expected StepError")
	}
	if se.Details["pid"] != 4242 {
		t.Errorf("details = %v, want pid 4242", se.Details)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Error("live lock file must not be removed")
	}

	// The failed acquire must not leave the mutex held.
	if rmErr := os.Remove(path); rmErr != nil {
		t.Fatal(rmErr)
	}
	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	guard.Release()
}

func TestAcquireTreatsMalformedLockAsStale(t *testing.T) {
	dir := t.TempDir()
	path := writeLock(t, dir, "not a pid\n")

	guard := NewLockGuard(path, zerolog.Nop()).WithProcDir(t.TempDir())

	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	guard.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("malformed lock file should be removed")
	}
}

func TestParseHolderPID(t *testing.T) {
	cases := []struct {
		content string
		pid     int
		ok      bool
	}{
		{"1234", 1234, true},
		{"1234\n", 1234, true},
		{"1234\nextra", 1234, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-5", 0, false},
	}
	for _, c := range cases {
		pid, ok := parseHolderPID(c.content)
		if pid != c.pid || ok != c.ok {
			t.Errorf("parseHolderPID(%q) = %d,%v want %d,%v", c.content, pid, ok, c.pid, c.ok)
		}
	}
}
