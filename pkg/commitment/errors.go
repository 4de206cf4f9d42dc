package commitment

import "errors"

var (
	// ErrEmptyDescription is returned when a commitment has no description
	ErrEmptyDescription = errors.New("commitment description is required")

	// ErrEmptyAssertion is returned when a commitment has no assertion command
	ErrEmptyAssertion = errors.New("commitment assertion is required")

	// ErrIllegalTransition is returned on a status edge that is not allowed
	ErrIllegalTransition = errors.New("illegal commitment status transition")

	// ErrNotFound is returned when a commitment is not in the set
	ErrNotFound = errors.New("commitment not found")

	// ErrDuplicate is returned when adding a commitment whose ID is already present
	ErrDuplicate = errors.New("commitment already exists")
)
