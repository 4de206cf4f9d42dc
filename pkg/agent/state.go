package agent

import "fmt"

// State is the lifecycle state of an agent
type State string

const (
	// StateIdle means no turn is in flight
	StateIdle State = "idle"

	// StateWorking means a turn is being processed
	StateWorking State = "working"

	// StateWaitingInput means the turn is suspended on an external
	// tool-approval decision
	StateWaitingInput State = "waiting_input"

	// StateVerifying means a completion claim is being checked against
	// the agent's commitments
	StateVerifying State = "verifying"

	// StateDone means the last turn completed and every commitment passed
	StateDone State = "done"

	// StateError means the last turn ended in an unrecoverable failure
	StateError State = "error"
)

// Terminal reports whether the state ends a turn
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateIdle
}

// legalTransitions is the closed edge set of the lifecycle machine.
// Reset (done/error -> idle) is listed because it is the only exit
// from the terminal states.
var legalTransitions = map[State][]State{
	StateIdle:         {StateWorking},
	StateWorking:      {StateWaitingInput, StateVerifying, StateDone, StateError, StateIdle},
	StateWaitingInput: {StateWorking, StateIdle, StateError},
	StateVerifying:    {StateWorking, StateDone, StateError, StateIdle},
	StateDone:         {StateIdle},
	StateError:        {StateIdle},
}

// checkTransition validates an edge against the lifecycle machine
func checkTransition(from, to State) error {
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
