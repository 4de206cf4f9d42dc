// Package agent coordinates autonomous sessions against an LLM backend.
//
// An Agent owns a lifecycle state machine, an exclusive commitment set,
// and the wiring between the messenger stream, the permission engine,
// and the commitment verifier. One turn is in flight per agent at any
// time; multiple agents run concurrently, sharing only the permission
// rule set and a global query limiter.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/arif/kestrel/pkg/commitment"
	"github.com/arif/kestrel/pkg/messenger"
	"github.com/arif/kestrel/pkg/permission"
)

// Role distinguishes the primary agent from spawned workers
type Role string

const (
	RolePrimary Role = "primary"
	RoleWorker  Role = "worker"
)

// EventSink receives stream events and state changes as they occur.
// Implemented by the presentation layer; all methods must be fast or
// hand off, they run on the agent's turn goroutine.
type EventSink interface {
	OnEvent(agent string, ev messenger.StreamEvent)
	OnStateChange(agent string, from, to State)
}

// RetryPolicy controls how commitment failures loop back into the
// conversation. Zero MaxFeedbackRounds means unbounded: feed failures
// back until the caller cancels.
type RetryPolicy struct {
	MaxFeedbackRounds int
}

// Config assembles an agent's collaborators
type Config struct {
	Name      string
	Role      Role
	Parent    string
	Messenger messenger.Messenger
	Engine    *permission.Engine
	Broker    *permission.Broker
	Verifier  *commitment.Verifier
	Executor  messenger.ToolExecutor
	Limiter   *Limiter
	Sink      EventSink
	Retry     RetryPolicy
}

// Agent is the orchestration unit: it serializes turns, gates tool use,
// and verifies completion claims before accepting a done state.
type Agent struct {
	name      string
	role      Role
	parent    string
	messenger messenger.Messenger
	engine    *permission.Engine
	broker    *permission.Broker
	verifier  *commitment.Verifier
	executor  messenger.ToolExecutor
	limiter   *Limiter
	sink      EventSink
	retry     RetryPolicy

	commitments *commitment.Set

	mu         sync.Mutex
	state      State
	cancelTurn context.CancelFunc
	usage      messenger.Usage
	sessionID  string
}

// New creates an idle agent
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("permission engine is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("commitment verifier is required")
	}

	role := cfg.Role
	if role == "" {
		role = RolePrimary
	}

	return &Agent{
		name:        cfg.Name,
		role:        role,
		parent:      cfg.Parent,
		messenger:   cfg.Messenger,
		engine:      cfg.Engine,
		broker:      cfg.Broker,
		verifier:    cfg.Verifier,
		executor:    cfg.Executor,
		limiter:     cfg.Limiter,
		sink:        cfg.Sink,
		retry:       cfg.Retry,
		commitments: commitment.NewSet(),
		state:       StateIdle,
	}, nil
}

// Name returns the agent's unique name
func (a *Agent) Name() string { return a.name }

// Role returns the agent's role
func (a *Agent) Role() Role { return a.role }

// Parent returns the owning parent's name, empty for primaries.
// The reference is lookup-only; the parent is never owned.
func (a *Agent) Parent() string { return a.parent }

// State returns the current lifecycle state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Usage returns the accumulated session usage
func (a *Agent) Usage() messenger.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// SessionID returns the backend session identifier, empty before the
// first completed turn
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Commitments returns the agent's exclusively owned commitment set
func (a *Agent) Commitments() *commitment.Set {
	return a.commitments
}

// Send submits one turn and drives it to a terminal state. It fails
// with ErrAgentBusy unless the agent is idle; callers await the
// previous turn's terminal state first. Cancellation resolves silently:
// the agent lands idle and Send returns nil.
func (a *Agent) Send(ctx context.Context, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}

	a.mu.Lock()
	if a.state != StateIdle {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAgentBusy, a.name, state)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	a.cancelTurn = cancel
	a.state = StateWorking
	a.mu.Unlock()

	a.notifyStateChange(StateIdle, StateWorking)

	defer func() {
		cancel()
		a.mu.Lock()
		a.cancelTurn = nil
		a.mu.Unlock()
	}()

	return a.processTurn(turnCtx, prompt)
}

// Cancel aborts the in-flight turn, if any. The underlying stream and
// any outstanding assertion subprocess are terminated through the turn
// context; the agent always lands idle.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cancel := a.cancelTurn
	a.mu.Unlock()

	if cancel != nil {
		log.Info().Str("agent", a.name).Msg("Cancelling turn")
		cancel()
	}
}

// Reset returns a settled agent to idle. It is the only exit from done
// and error; resetting mid-turn fails with ErrAgentBusy.
func (a *Agent) Reset() error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	switch state {
	case StateIdle:
		return nil
	case StateDone, StateError:
		a.setState(StateIdle)
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrAgentBusy, a.name, state)
	}
}

// processTurn runs the feedback loop: stream a turn, verify the
// completion claim, and loop commitment failures back into the
// conversation until everything passes, the policy gives up, or the
// caller cancels.
func (a *Agent) processTurn(ctx context.Context, prompt string) error {
	rounds := 0

	for {
		err := a.runStream(ctx, prompt)
		if err != nil {
			if a.cancelled(ctx, err) {
				a.setState(StateIdle)
				log.Info().Str("agent", a.name).Msg("Turn cancelled")
				return nil
			}
			a.setState(StateError)
			return err
		}

		// Completion claimed: verify before trusting it.
		a.setState(StateVerifying)

		passed, verr := a.verifier.VerifyAll(ctx, a.commitments)
		if verr != nil {
			if a.cancelled(ctx, verr) {
				a.setState(StateIdle)
				return nil
			}
			a.setState(StateError)
			return fmt.Errorf("commitment verification failed to run: %w", verr)
		}

		if passed {
			a.setState(StateDone)
			log.Info().
				Str("agent", a.name).
				Int("commitments", a.commitments.Len()).
				Msg("Turn done, all commitments passed")
			return nil
		}

		rounds++
		if a.retry.MaxFeedbackRounds > 0 && rounds >= a.retry.MaxFeedbackRounds {
			a.setState(StateError)
			return fmt.Errorf("%w after %d rounds: %s",
				ErrFeedbackExhausted, rounds, commitment.FailureSummary(a.commitments))
		}

		// Feed the failure detail back as the next turn and reset the
		// failed commitments so the next verification re-runs them.
		prompt = commitment.FailureSummary(a.commitments)
		for _, c := range a.commitments.ByStatus(commitment.StatusFailed) {
			if err := c.Reset(); err != nil {
				a.setState(StateError)
				return err
			}
		}
		a.setState(StateWorking)

		log.Info().
			Str("agent", a.name).
			Int("round", rounds).
			Msg("Commitments failed, feeding back")
	}
}

// runStream drives a single backend query to its terminal event.
// Returns nil when the turn completed; the limiter slot is held for the
// stream's whole lifetime and released on every path.
func (a *Agent) runStream(ctx context.Context, prompt string) error {
	if err := a.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer a.limiter.Release()

	turn := messenger.Turn{Prompt: prompt, SessionID: a.SessionID()}

	stream, err := a.messenger.Query(ctx, turn, messenger.Options{
		Gate:     a.gate,
		Executor: a.executor,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer stream.Cancel()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, messenger.ErrStreamClosed) {
				return fmt.Errorf("%w: stream closed without a terminal event", messenger.ErrStreamFailure)
			}
			return err
		}

		a.notifyEvent(ev)

		switch ev := ev.(type) {
		case messenger.Completed:
			a.mu.Lock()
			a.usage.Add(ev.Usage)
			if ev.SessionID != "" {
				a.sessionID = ev.SessionID
			}
			a.mu.Unlock()
			return nil

		case messenger.Failed:
			if errors.Is(ev.Err, messenger.ErrStreamFailure) {
				return ev.Err
			}
			return fmt.Errorf("%w: %v", messenger.ErrStreamFailure, ev.Err)
		}
	}
}

// gate is the permission-decision callback handed to the messenger.
// The engine is consulted first; only an undecided result suspends the
// turn for an external approval.
func (a *Agent) gate(ctx context.Context, use messenger.ToolUse) (bool, error) {
	switch a.engine.Evaluate(use.Name) {
	case permission.DecisionAllow:
		return true, nil
	case permission.DecisionDeny:
		// Denials are recovered locally: the messenger reports them to
		// the model as error tool results and the turn continues.
		return false, nil
	}

	if a.broker == nil {
		log.Warn().
			Str("agent", a.name).
			Str("tool", use.Name).
			Msg("Undecided tool use with no approval broker, denying")
		return false, nil
	}

	a.setState(StateWaitingInput)

	decision, err := a.broker.Ask(ctx, use.Name, describeToolUse(use), a.name)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation while waiting discards the pending approval;
			// the stream unwinds and the turn resolves to idle.
			return false, err
		}
		// Any other broker failure is recovered by the messenger as an
		// error tool result and the turn keeps running, so the
		// suspension must be lifted before returning.
		log.Warn().
			Err(err).
			Str("agent", a.name).
			Str("tool", use.Name).
			Msg("Approval request failed, denying")
		a.setState(StateWorking)
		return false, err
	}

	a.setState(StateWorking)
	return decision == permission.DecisionAllow, nil
}

// cancelled reports whether an error is the result of turn cancellation
func (a *Agent) cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, messenger.ErrStreamCancelled) ||
		errors.Is(err, ErrCancelled)
}

// setState applies a lifecycle edge, logging if the machine would be
// violated. Callers only request edges in the legal set.
func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	if from == to {
		a.mu.Unlock()
		return
	}
	if err := checkTransition(from, to); err != nil {
		a.mu.Unlock()
		log.Error().Err(err).Str("agent", a.name).Msg("Refused state transition")
		return
	}
	a.state = to
	a.mu.Unlock()

	a.notifyStateChange(from, to)

	log.Debug().
		Str("agent", a.name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Agent state changed")
}

func (a *Agent) notifyStateChange(from, to State) {
	if a.sink != nil {
		a.sink.OnStateChange(a.name, from, to)
	}
}

func (a *Agent) notifyEvent(ev messenger.StreamEvent) {
	if a.sink != nil {
		a.sink.OnEvent(a.name, ev)
	}
}

// describeToolUse renders a tool request for the approval prompt
func describeToolUse(use messenger.ToolUse) string {
	if len(use.Input) == 0 {
		return use.Name
	}
	input := string(use.Input)
	if len(input) > 200 {
		input = input[:200] + "..."
	}
	return fmt.Sprintf("%s %s", use.Name, input)
}
