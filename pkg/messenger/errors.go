package messenger

import "errors"

var (
	// ErrStreamClosed is returned by Next after the terminal event
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamCancelled is returned by Next after Cancel
	ErrStreamCancelled = errors.New("stream cancelled")

	// ErrEmptyTurn is returned when a turn has neither prompt nor session
	ErrEmptyTurn = errors.New("turn has no prompt and no session to resume")

	// ErrUnknownSession is returned when resuming a session the messenger does not know
	ErrUnknownSession = errors.New("unknown session")

	// ErrStreamFailure wraps transport or backend errors carried by Failed events
	ErrStreamFailure = errors.New("stream failure")
)
