package assertion

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HostRunner executes assertions as child processes on the host.
type HostRunner struct {
	// Shell is the interpreter used to run commands. Defaults to "sh".
	Shell string
}

// NewHostRunner creates a runner that executes commands through sh -c.
func NewHostRunner() *HostRunner {
	return &HostRunner{Shell: "sh"}
}

// Run executes the assertion command and waits for completion or timeout.
// The child process is killed when the deadline expires; the captured
// output up to that point is preserved in the result.
func (h *HostRunner) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return Result{}, ErrEmptyCommand
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	shell := h.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(execCtx, shell, "-c", req.Command)

	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	cmd.Env = buildEnvironment(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrProcessLaunchFailed, req.Command, err)
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	// Timeout first: a killed child also reports a non-zero exit.
	if execCtx.Err() == context.DeadlineExceeded {
		log.Warn().
			Str("command", req.Command).
			Dur("timeout", req.Timeout).
			Msg("Assertion timed out")

		return Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
		}, nil
	}

	// Caller cancellation is not an assertion outcome.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return Result{}, fmt.Errorf("assertion wait failed: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	log.Debug().
		Str("command", req.Command).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("Assertion executed")

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// buildEnvironment builds the environment variables for the command
func buildEnvironment(env map[string]string) []string {
	// Start with minimal environment
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
	}

	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}

	return result
}
