package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command describes one external command invocation.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// Env holds additional environment variables merged over the parent
	// environment. Proxy settings arrive here.
	Env map[string]string

	// Stdin is fed to the process when non-empty.
	Stdin string

	// AsUser, when set, runs the command as that user via sudo.
	AsUser string

	// Timeout bounds the invocation. Zero means the context alone governs.
	Timeout time.Duration
}

// Result captures a finished invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands on some target. The provisioning steps depend on
// this interface; tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	log      zerolog.Logger
	baseEnv  map[string]string
	classify Classifier
}

// LocalOption customizes a LocalRunner.
type LocalOption func(*LocalRunner)

// WithBaseEnv sets environment variables applied to every command.
func WithBaseEnv(env map[string]string) LocalOption {
	return func(r *LocalRunner) { r.baseEnv = env }
}

// WithClassifier overrides the failure classifier.
func WithClassifier(c Classifier) LocalOption {
	return func(r *LocalRunner) { r.classify = c }
}

// NewLocalRunner creates a runner for local execution.
func NewLocalRunner(log zerolog.Logger, opts ...LocalOption) *LocalRunner {
	r := &LocalRunner{
		log:      log.With().Str("component", "runner").Logger(),
		classify: DefaultClassifier,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the command and returns its result. A non-zero exit status
// is returned as a classified error alongside the captured result, so
// callers can still inspect output on failure.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	argv := cmd.Argv
	if cmd.AsUser != "" {
		argv = append([]string{"sudo", "-u", cmd.AsUser, "--"}, argv...)
	}

	ec := exec.CommandContext(ctx, argv[0], argv[1:]...)
	ec.Dir = cmd.Dir
	ec.Env = mergeEnv(os.Environ(), r.baseEnv, cmd.Env)
	if cmd.Stdin != "" {
		ec.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	ec.Stdout = &stdout
	ec.Stderr = &stderr

	r.log.Debug().Strs("argv", argv).Str("dir", cmd.Dir).Msg("executing command")

	start := time.Now()
	err := ec.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ec.ProcessState != nil {
		res.ExitCode = ec.ProcessState.ExitCode()
	}

	if err != nil {
		r.log.Debug().
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("command failed")
		return res, r.classify(ctx, cmd, res, err)
	}

	r.log.Debug().Dur("duration", res.Duration).Msg("command succeeded")
	return res, nil
}

// mergeEnv layers maps of variables over a base environment, later layers
// winning.
func mergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	order := make([]string, 0, len(base))
	for _, kv := range base {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		key := kv[:i]
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = kv[i+1:]
	}
	for _, layer := range layers {
		for key, val := range layer {
			if _, seen := merged[key]; !seen {
				order = append(order, key)
			}
			merged[key] = val
		}
	}

	env := make([]string, 0, len(order))
	for _, key := range order {
		env = append(env, key+"="+merged[key])
	}
	return env
}
