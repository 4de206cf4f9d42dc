package agent

import "errors"

var (
	// ErrAgentBusy is returned when a turn is already in flight
	ErrAgentBusy = errors.New("agent is busy")

	// ErrIllegalTransition is returned on a lifecycle edge that is not allowed
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrCancelled marks an explicitly cancelled turn. It is resolved
	// silently to idle, never surfaced as a failure.
	ErrCancelled = errors.New("turn cancelled")

	// ErrFeedbackExhausted is returned when commitment failures outlast
	// the configured feedback rounds
	ErrFeedbackExhausted = errors.New("commitment verification failed after maximum feedback rounds")

	// ErrAgentNotFound is returned when a registry lookup misses
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDuplicateAgent is returned when spawning a name that is taken
	ErrDuplicateAgent = errors.New("agent already exists")

	// ErrUnknownParent is returned when spawning a worker under a parent that is not registered
	ErrUnknownParent = errors.New("parent agent not found")

	// ErrDismissWhileWorking is returned when dismissing an agent with a turn in flight
	ErrDismissWhileWorking = errors.New("cannot dismiss an agent with a turn in flight")
)
