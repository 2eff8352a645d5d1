package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/archstrap/archstrap/pkg/engine"
)

// Classifier turns a failed invocation into a classified error. The engine
// only retries transient failures, so the classifier decides what a retry
// can plausibly fix.
type Classifier func(ctx context.Context, cmd Command, res *Result, err error) error

// Stderr fragments that indicate a transient network fault. Package mirrors
// and downloads fail this way under load and usually recover on retry.
var transientFragments = []string{
	"failed retrieving file",
	"connection timed out",
	"connection reset",
	"temporary failure in name resolution",
	"could not resolve host",
	"operation too slow",
	"download library error",
	"error fetching",
}

// Stderr fragments that indicate the package database is held by another
// process. Not retryable by waiting inside the step; the lock guard decides.
var busyFragments = []string{
	"unable to lock database",
	"could not lock",
	"db.lck",
}

// DefaultClassifier is the classifier used when none is supplied.
func DefaultClassifier(ctx context.Context, cmd Command, res *Result, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return engine.NewFatalError("command cancelled", ctx.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewTransientError(
			fmt.Sprintf("command timed out: %s", argvLabel(cmd)), err).
			WithDetail("argv", strings.Join(cmd.Argv, " "))
	}

	stderr := ""
	if res != nil {
		stderr = strings.ToLower(res.Stderr)
	}

	for _, fragment := range busyFragments {
		if strings.Contains(stderr, fragment) {
			return engine.NewResourceBusyError(
				fmt.Sprintf("package database busy: %s", argvLabel(cmd)), err).
				WithDetail("stderr", tail(res.Stderr, 400))
		}
	}

	for _, fragment := range transientFragments {
		if strings.Contains(stderr, fragment) {
			return engine.NewTransientError(
				fmt.Sprintf("network failure: %s", argvLabel(cmd)), err).
				WithDetail("stderr", tail(res.Stderr, 400))
		}
	}

	msg := fmt.Sprintf("command failed: %s", argvLabel(cmd))
	se := engine.NewFatalError(msg, err)
	if res != nil {
		se = se.WithDetail("exit_code", res.ExitCode)
		if res.Stderr != "" {
			se = se.WithDetail("stderr", tail(res.Stderr, 400))
		}
	}
	return se
}

// argvLabel renders a short command label for error messages.
func argvLabel(cmd Command) string {
	if len(cmd.Argv) == 0 {
		return "(empty)"
	}
	if len(cmd.Argv) > 3 {
		return strings.Join(cmd.Argv[:3], " ") + " ..."
	}
	return strings.Join(cmd.Argv, " ")
}

// tail returns at most n trailing bytes of s. Error detail stays bounded
// even when a command dumps a long transcript.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
