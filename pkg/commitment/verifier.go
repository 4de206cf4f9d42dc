package commitment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arif/kestrel/pkg/assertion"
)

// TimeoutMessage is the fixed failure message prefix recorded when an
// assertion exceeds its deadline. It never appears for exit-code
// failures, so callers can distinguish the two.
const TimeoutMessage = "assertion timed out"

// Verifier runs commitment assertions and settles their statuses.
type Verifier struct {
	runner     assertion.Runner
	timeout    time.Duration
	workingDir string
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithTimeout sets the per-assertion deadline. Zero means no deadline.
func WithTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.timeout = d }
}

// WithWorkingDir sets the directory assertions run in
func WithWorkingDir(dir string) VerifierOption {
	return func(v *Verifier) { v.workingDir = dir }
}

// NewVerifier creates a verifier backed by the given runner
func NewVerifier(runner assertion.Runner, opts ...VerifierOption) *Verifier {
	v := &Verifier{runner: runner}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs a single commitment's assertion and settles its status.
// Returns true when the commitment passed. A cancelled run rolls the
// commitment back to pending and returns the context error; a process
// that could not launch settles the commitment as failed and surfaces
// the launch error to the caller.
func (v *Verifier) Verify(ctx context.Context, c *Commitment) (bool, error) {
	if err := c.markVerifying(); err != nil {
		return false, err
	}

	log.Debug().
		Str("commitment_id", c.ID).
		Str("assertion", c.Assertion).
		Msg("Verifying commitment")

	result, err := v.runner.Run(ctx, assertion.Request{
		Command:    c.Assertion,
		WorkingDir: v.workingDir,
		Timeout:    v.timeout,
	})

	if err != nil {
		if ctx.Err() != nil {
			c.rollback()
			return false, ctx.Err()
		}

		// Launch failures settle the commitment and propagate so the
		// caller can surface full diagnostics.
		if markErr := c.markFailed(err.Error()); markErr != nil {
			return false, markErr
		}
		return false, err
	}

	if result.TimedOut {
		message := fmt.Sprintf("%s after %s", TimeoutMessage, v.timeout)
		if err := c.markFailed(message); err != nil {
			return false, err
		}

		log.Warn().
			Str("commitment_id", c.ID).
			Dur("timeout", v.timeout).
			Msg("Commitment verification timed out")
		return false, nil
	}

	if result.ExitCode != 0 {
		message := fmt.Sprintf("assertion exited with code %d", result.ExitCode)
		if detail := strings.TrimSpace(result.Stderr); detail != "" {
			message = fmt.Sprintf("%s: %s", message, detail)
		}
		if err := c.markFailed(message); err != nil {
			return false, err
		}

		log.Info().
			Str("commitment_id", c.ID).
			Int("exit_code", result.ExitCode).
			Msg("Commitment verification failed")
		return false, nil
	}

	if err := c.markPassed(); err != nil {
		return false, err
	}

	log.Info().
		Str("commitment_id", c.ID).
		Dur("duration", result.Duration).
		Msg("Commitment verified")
	return true, nil
}

// VerifyAll runs every pending commitment in the set and reports
// whether all commitments in the set ended passed. A failure does not
// stop remaining checks from running; an empty set passes.
func (v *Verifier) VerifyAll(ctx context.Context, set *Set) (bool, error) {
	var firstErr error

	for _, c := range set.ByStatus(StatusPending) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if _, err := v.Verify(ctx, c); err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return set.AllPassed(), firstErr
}

// RetryFailed resets and re-runs only the commitments currently in
// failed status. Commitments that already passed are never re-executed.
func (v *Verifier) RetryFailed(ctx context.Context, set *Set) (bool, error) {
	var firstErr error

	for _, c := range set.ByStatus(StatusFailed) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if err := c.Reset(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if _, err := v.Verify(ctx, c); err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return set.AllPassed(), firstErr
}

// FailureSummary renders the failed commitments of a set as feedback
// suitable for the next conversational turn.
func FailureSummary(set *Set) string {
	failed := set.ByStatus(StatusFailed)
	if len(failed) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The following completion checks failed:\n")
	for _, c := range failed {
		fmt.Fprintf(&b, "- %s: %s\n", c.Description, c.FailureMessage)
	}
	b.WriteString("Fix the underlying issues and declare completion again.")
	return b.String()
}
