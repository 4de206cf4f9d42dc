// Package assertion executes shell assertions with bounded timeouts.
//
// An assertion is a single shell command whose exit status decides a
// pass/fail outcome. Runners capture output and report timeouts
// distinctly from non-zero exits so callers can tell "the check ran and
// failed" apart from "the check never finished".
package assertion

import (
	"context"
	"time"
)

// Request describes a single assertion execution.
type Request struct {
	// Command is passed to the shell verbatim.
	Command string `json:"command"`

	// WorkingDir is the directory the command runs in. Empty means the
	// process inherits the runner's current directory.
	WorkingDir string `json:"working_dir,omitempty"`

	// Timeout bounds execution. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Env holds additional environment variables for the command.
	Env map[string]string `json:"env,omitempty"`
}

// Result is the outcome of one assertion execution.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the assertion succeeded.
func (r Result) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner executes assertion commands.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}
