package permission

import "errors"

var (
	// ErrEmptyPattern is returned when a rule has no pattern
	ErrEmptyPattern = errors.New("rule pattern is empty")

	// ErrInvalidDecision is returned when a rule carries a decision other than allow or deny
	ErrInvalidDecision = errors.New("invalid rule decision")

	// ErrInvalidMode is returned when a mode value is not recognized
	ErrInvalidMode = errors.New("invalid permission mode")

	// ErrRuleNotFound is returned when removing a pattern that is not in the set
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDenied is returned when the engine or the user denied a tool
	ErrDenied = errors.New("permission denied")

	// ErrUnknownRequest is returned when resolving an approval request that is not pending
	ErrUnknownRequest = errors.New("unknown approval request")

	// ErrBrokerClosed is returned when asking a closed broker for approval
	ErrBrokerClosed = errors.New("approval broker is closed")
)
