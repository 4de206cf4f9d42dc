// Package commitment tracks self-declared completion conditions and
// verifies them through executable assertions.
//
// A commitment is a claim an agent makes about finished work, paired
// with a shell assertion that can prove or disprove the claim without
// trusting the agent. Statuses move pending -> verifying -> passed or
// failed; an explicit reset is the only way back to pending.
package commitment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the verification state of a commitment
type Status string

const (
	StatusPending   Status = "pending"   // Declared, not yet verified
	StatusVerifying Status = "verifying" // Assertion currently running
	StatusPassed    Status = "passed"    // Assertion succeeded
	StatusFailed    Status = "failed"    // Assertion failed or timed out
)

// Commitment is a verifiable completion condition declared by an agent.
type Commitment struct {
	ID             string    `json:"id"`
	Description    string    `json:"description"`
	Assertion      string    `json:"assertion"`
	Status         Status    `json:"status"`
	FailureMessage string    `json:"failure_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// New creates a pending commitment.
func New(description, assertion string) (*Commitment, error) {
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if assertion == "" {
		return nil, ErrEmptyAssertion
	}

	now := time.Now()
	return &Commitment{
		ID:          uuid.NewString(),
		Description: description,
		Assertion:   assertion,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// markVerifying transitions pending -> verifying.
func (c *Commitment) markVerifying() error {
	if c.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusVerifying)
	}
	c.Status = StatusVerifying
	c.UpdatedAt = time.Now()
	return nil
}

// markPassed transitions verifying -> passed and clears any failure message.
func (c *Commitment) markPassed() error {
	if c.Status != StatusVerifying {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusPassed)
	}
	c.Status = StatusPassed
	c.FailureMessage = ""
	c.UpdatedAt = time.Now()
	return nil
}

// markFailed transitions verifying -> failed with a diagnostic message.
func (c *Commitment) markFailed(message string) error {
	if c.Status != StatusVerifying {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusFailed)
	}
	c.Status = StatusFailed
	c.FailureMessage = message
	c.UpdatedAt = time.Now()
	return nil
}

// rollback returns an aborted verification to pending. Used when the
// run was cancelled before producing a result.
func (c *Commitment) rollback() {
	if c.Status == StatusVerifying {
		c.Status = StatusPending
		c.UpdatedAt = time.Now()
	}
}

// Reset returns a settled commitment to pending so it can be verified
// again. Resetting a commitment that is currently verifying is illegal.
func (c *Commitment) Reset() error {
	switch c.Status {
	case StatusPassed, StatusFailed, StatusPending:
		c.Status = StatusPending
		c.FailureMessage = ""
		c.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, c.Status, StatusPending)
	}
}

// Settled reports whether the commitment has a final verification result.
func (c *Commitment) Settled() bool {
	return c.Status == StatusPassed || c.Status == StatusFailed
}
