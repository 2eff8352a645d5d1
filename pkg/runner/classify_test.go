package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/archstrap/archstrap/pkg/engine"
)

func TestClassifyLockContention(t *testing.T) {
	cmd := Command{Argv: []string{"pacman", "-Syu"}}
	res := &Result{ExitCode: 1, Stderr: "error: unable to lock database\n"}

	err := DefaultClassifier(context.Background(), cmd, res, fmt.Errorf("exit status 1"))
	if !engine.IsResourceBusy(err) {
		t.Errorf("expected resource busy, got %v", err)
	}
}

func TestClassifyNetworkFailureTransient(t *testing.T) {
	cmd := Command{Argv: []string{"pacman", "-S", "git"}}
	stderrs := []string{
		"error: failed retrieving file 'core.db'",
		"fatal: could not resolve host: github.com",
		"Connection timed out after 30000 ms",
	}
	for _, stderr := range stderrs {
		res := &Result{ExitCode: 1, Stderr: stderr}
		err := DefaultClassifier(context.Background(), cmd, res, fmt.Errorf("exit status 1"))
		if !engine.IsTransient(err) {
			t.Errorf("stderr %q: expected transient, got %v", stderr, err)
		}
		if !engine.IsRetryable(err) {
			t.Errorf("stderr %q: network failures should be retryable", stderr)
		}
	}
}

func TestClassifyPlainFailureFatal(t *testing.T) {
	cmd := Command{Argv: []string{"useradd", "dev"}}
	res := &Result{ExitCode: 9, Stderr: "useradd: user 'dev' already exists"}

	err := DefaultClassifier(context.Background(), cmd, res, fmt.Errorf("exit status 9"))
	if !engine.IsFatal(err) {
		t.Errorf("expected fatal, got %v", err)
	}

	var se *engine.StepError
	if !errors.As(err, &se) {
		t.Fatal("expected StepError")
	}
	if se.Details["exit_code"] != 9 {
		t.Errorf("details = %v", se.Details)
	}
}

func TestClassifyTimeoutTransient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := DefaultClassifier(ctx, Command{Argv: []string{"curl"}}, nil, ctx.Err())
	if !engine.IsTransient(err) {
		t.Errorf("expected transient on deadline, got %v", err)
	}
}

func TestClassifyCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultClassifier(ctx, Command{Argv: []string{"curl"}}, nil, ctx.Err())
	if engine.IsRetryable(err) {
		t.Errorf("cancellation must not be retryable: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause should be context.Canceled: %v", err)
	}
}

func TestTailBoundsOutput(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "0123456789"
	}
	got := tail(long, 50)
	if len(got) != 53 { // "..." prefix plus 50 bytes
		t.Errorf("len = %d", len(got))
	}
	if got[:3] != "..." {
		t.Errorf("missing ellipsis: %q", got[:10])
	}
}
