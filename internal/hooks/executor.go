// Package hooks runs an operator-configured shell command whenever the site
// status or page content changes, for example to purge a CDN.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second

	// maxOutput caps how much hook output is kept for the log line.
	maxOutput = 4096
)

// Result describes one hook run. ExitCode is -1 when the command did not
// exit on its own (it could not start, or the timeout killed it).
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// Execute runs command through "sh -c" with env layered over the server's
// environment. Output is stdout, or stderr when stdout is empty.
func Execute(ctx context.Context, command string, timeout time.Duration, env map[string]string) Result {
	timeout = clampTimeout(timeout)
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", command) //nolint:gosec // command comes from server config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start), Err: err}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case hookCtx.Err() != nil:
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		out = strings.TrimSpace(stderr.String())
	}
	if len(out) > maxOutput {
		out = out[:maxOutput] + "...(truncated)"
	}
	res.Output = out
	return res
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}
