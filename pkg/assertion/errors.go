package assertion

import "errors"

var (
	// ErrEmptyCommand is returned when the assertion command is blank
	ErrEmptyCommand = errors.New("assertion command is empty")

	// ErrProcessLaunchFailed is returned when the assertion process could not start
	ErrProcessLaunchFailed = errors.New("assertion process failed to launch")
)
