package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arif/kestrel/pkg/assertion"
	"github.com/arif/kestrel/pkg/commitment"
	"github.com/arif/kestrel/pkg/messenger"
	"github.com/arif/kestrel/pkg/permission"
)

// staticMode is a fixed ModeSource
type staticMode permission.Mode

func (m staticMode) Mode() permission.Mode { return permission.Mode(m) }

// ruleSink adapts a RuleSet to the broker's persistence interface
type ruleSink struct{ rules *permission.RuleSet }

func (s ruleSink) AddRule(rule permission.Rule) error { return s.rules.Add(rule) }

// memorySink records events and state changes for assertions
type memorySink struct {
	mu          sync.Mutex
	events      []messenger.StreamEvent
	transitions []string
}

func (s *memorySink) OnEvent(agent string, ev messenger.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memorySink) OnStateChange(agent string, from, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, string(from)+">"+string(to))
}

func (s *memorySink) Transitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transitions...)
}

func (s *memorySink) Events() []messenger.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messenger.StreamEvent(nil), s.events...)
}

// newTestAgent builds an agent over the given messenger with a real
// shell-backed verifier and a bypass permission engine.
func newTestAgent(t *testing.T, m messenger.Messenger, mutate func(*Config)) (*Agent, *memorySink) {
	t.Helper()

	sink := &memorySink{}
	cfg := Config{
		Name:      "tester",
		Messenger: m,
		Engine:    permission.NewEngine(staticMode(permission.ModeBypass), permission.NewRuleSet()),
		Verifier:  commitment.NewVerifier(&assertion.HostRunner{}, commitment.WithTimeout(5*time.Second)),
		Sink:      sink,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	return a, sink
}

// TestNew_Validation tests config validation
func TestNew_Validation(t *testing.T) {
	engine := permission.NewEngine(staticMode(permission.ModeBypass), permission.NewRuleSet())
	verifier := commitment.NewVerifier(&assertion.HostRunner{})
	m := messenger.NewScriptedMessenger()

	_, err := New(Config{Messenger: m, Engine: engine, Verifier: verifier})
	assert.Error(t, err, "name is required")

	_, err = New(Config{Name: "a", Engine: engine, Verifier: verifier})
	assert.Error(t, err, "messenger is required")

	_, err = New(Config{Name: "a", Messenger: m, Verifier: verifier})
	assert.Error(t, err, "engine is required")

	_, err = New(Config{Name: "a", Messenger: m, Engine: engine})
	assert.Error(t, err, "verifier is required")

	a, err := New(Config{Name: "a", Messenger: m, Engine: engine, Verifier: verifier})
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, a.Role(), "role defaults to primary")
	assert.Equal(t, StateIdle, a.State())
}

// TestSend_HappyPath tests a plain turn with no commitments
func TestSend_HappyPath(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.Thinking{Text: "considering"},
		messenger.TextDelta{Text: "done"},
		messenger.Completed{Usage: messenger.Usage{InputTokens: 10, OutputTokens: 5}},
	})

	a, sink := newTestAgent(t, m, nil)

	err := a.Send(context.Background(), "do the thing")
	require.NoError(t, err)

	assert.Equal(t, StateDone, a.State())
	assert.Equal(t, []string{
		"idle>working",
		"working>verifying",
		"verifying>done",
	}, sink.Transitions())

	usage := a.Usage()
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 5, usage.OutputTokens)
	assert.NotEmpty(t, a.SessionID())
	assert.Len(t, sink.Events(), 3, "every stream event reaches the sink")
}

// TestSend_EmptyPrompt tests prompt validation
func TestSend_EmptyPrompt(t *testing.T) {
	a, _ := newTestAgent(t, messenger.NewScriptedMessenger(), nil)

	err := a.Send(context.Background(), "")
	assert.Error(t, err)
	assert.Equal(t, StateIdle, a.State())
}

// TestSend_Busy tests that only one turn runs at a time
func TestSend_Busy(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.Stall(),
	})

	a, _ := newTestAgent(t, m, nil)

	done := make(chan error, 1)
	go func() { done <- a.Send(context.Background(), "long running") }()

	require.Eventually(t, func() bool {
		return a.State() == StateWorking
	}, 2*time.Second, 10*time.Millisecond)

	err := a.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrAgentBusy)

	a.Cancel()
	require.NoError(t, <-done, "cancellation resolves silently")
	assert.Equal(t, StateIdle, a.State())
}

// TestSend_RejectedFromTerminalStates tests that done and error require
// an explicit reset before the next turn
func TestSend_RejectedFromTerminalStates(t *testing.T) {
	m := messenger.NewScriptedMessenger(
		[]messenger.StreamEvent{messenger.Completed{}},
		[]messenger.StreamEvent{messenger.Completed{}},
	)

	a, _ := newTestAgent(t, m, nil)

	require.NoError(t, a.Send(context.Background(), "first"))
	require.Equal(t, StateDone, a.State())

	err := a.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrAgentBusy)

	require.NoError(t, a.Reset())
	assert.Equal(t, StateIdle, a.State())
	require.NoError(t, a.Send(context.Background(), "second"))
}

// TestSend_StreamFailure tests that a failed stream lands in error
func TestSend_StreamFailure(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.TextDelta{Text: "partial"},
		messenger.Failed{Err: messenger.ErrStreamFailure},
	})

	a, _ := newTestAgent(t, m, nil)

	err := a.Send(context.Background(), "go")
	assert.ErrorIs(t, err, messenger.ErrStreamFailure)
	assert.Equal(t, StateError, a.State())
}

// TestSend_CommitmentsGateDone tests that done requires every
// commitment to pass
func TestSend_CommitmentsGateDone(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.Completed{},
	})

	a, sink := newTestAgent(t, m, nil)
	_, err := a.Commitments().Declare("exit zero", "true")
	require.NoError(t, err)
	_, err = a.Commitments().Declare("file exists", "test -d /tmp")
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), "finish up"))
	assert.Equal(t, StateDone, a.State())
	assert.True(t, a.Commitments().AllPassed())
	assert.Contains(t, sink.Transitions(), "working>verifying")
}

// TestSend_FeedbackLoop tests that commitment failures are fed back as
// new turns until the round budget runs out
func TestSend_FeedbackLoop(t *testing.T) {
	m := messenger.NewScriptedMessenger(
		[]messenger.StreamEvent{messenger.Completed{}},
		[]messenger.StreamEvent{messenger.Completed{}},
	)

	a, sink := newTestAgent(t, m, func(cfg *Config) {
		cfg.Retry = RetryPolicy{MaxFeedbackRounds: 2}
	})
	_, err := a.Commitments().Declare("never satisfied", "false")
	require.NoError(t, err)

	err = a.Send(context.Background(), "finish up")
	assert.ErrorIs(t, err, ErrFeedbackExhausted)
	assert.Equal(t, StateError, a.State())

	turns := m.Turns()
	require.Len(t, turns, 2, "one feedback round before giving up")
	assert.Contains(t, turns[1].Prompt, "never satisfied")
	assert.Contains(t, turns[1].Prompt, "completion checks failed")
	assert.Equal(t, turns[0].Prompt, "finish up")
	assert.NotEmpty(t, turns[1].SessionID, "feedback turns resume the session")

	assert.Contains(t, sink.Transitions(), "verifying>working")
}

// TestSend_FeedbackRecovers tests a failure that passes on the retry
func TestSend_FeedbackRecovers(t *testing.T) {
	dir := t.TempDir()

	m := messenger.NewScriptedMessenger(
		[]messenger.StreamEvent{messenger.Completed{}},
		[]messenger.StreamEvent{messenger.Completed{}},
	)

	a, _ := newTestAgent(t, m, func(cfg *Config) {
		cfg.Verifier = commitment.NewVerifier(
			&assertion.HostRunner{},
			commitment.WithWorkingDir(dir),
			commitment.WithTimeout(5*time.Second),
		)
		cfg.Retry = RetryPolicy{MaxFeedbackRounds: 3}
	})

	// Fails the first round, then the "agent" creates the marker before
	// declaring completion again.
	_, err := a.Commitments().Declare("marker exists", "test -f marker || { touch marker; exit 1; }")
	require.NoError(t, err)

	require.NoError(t, a.Send(context.Background(), "finish up"))
	assert.Equal(t, StateDone, a.State())
	require.Len(t, m.Turns(), 2)
}

// TestGate_EngineDecisions tests allow and deny without suspension
func TestGate_EngineDecisions(t *testing.T) {
	script := []messenger.StreamEvent{
		messenger.ToolUse{ID: "tu_1", Name: "bash", Input: json.RawMessage(`{"cmd":"ls"}`)},
		messenger.ToolResult{ToolUseID: "tu_1", Content: "ok"},
		messenger.Completed{},
	}

	t.Run("bypass allows", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		a, _ := newTestAgent(t, m, nil)

		require.NoError(t, a.Send(context.Background(), "go"))
		assert.Equal(t, []bool{true}, m.Decisions())
		assert.Equal(t, StateDone, a.State())
	})

	t.Run("plan denies and the turn continues", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		a, sink := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModePlan), permission.NewRuleSet())
		})

		require.NoError(t, a.Send(context.Background(), "go"))
		assert.Equal(t, []bool{false}, m.Decisions())
		assert.Equal(t, StateDone, a.State(), "a denial is not an error")
		assert.NotContains(t, sink.Transitions(), "working>waiting_input")
	})

	t.Run("undecided without a broker denies", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		a, sink := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModeInteractive), permission.NewRuleSet())
			cfg.Broker = nil
		})

		require.NoError(t, a.Send(context.Background(), "go"))
		assert.Equal(t, []bool{false}, m.Decisions())
		assert.NotContains(t, sink.Transitions(), "working>waiting_input")
	})
}

// TestGate_ApprovalFlow tests the suspension on an undecided evaluation
func TestGate_ApprovalFlow(t *testing.T) {
	script := []messenger.StreamEvent{
		messenger.ToolUse{ID: "tu_1", Name: "bash", Input: json.RawMessage(`{"cmd":"make test"}`)},
		messenger.ToolResult{ToolUseID: "tu_1", Content: "ok"},
		messenger.Completed{},
	}

	t.Run("approval resumes the turn", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		rules := permission.NewRuleSet()
		broker := permission.NewBroker(ruleSink{rules}, 4)

		a, sink := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModeInteractive), rules)
			cfg.Broker = broker
		})

		done := make(chan error, 1)
		go func() { done <- a.Send(context.Background(), "go") }()

		var req permission.ApprovalRequest
		select {
		case req = <-broker.Requests():
		case <-time.After(2 * time.Second):
			t.Fatal("no approval request surfaced")
		}

		assert.Equal(t, "bash", req.Tool)
		assert.Equal(t, "tester", req.Agent)
		assert.Contains(t, req.Description, "make test")
		assert.Equal(t, StateWaitingInput, a.State())

		require.NoError(t, broker.Resolve(req.ID, permission.ApprovalResponse{Approved: true}))
		require.NoError(t, <-done)

		assert.Equal(t, StateDone, a.State())
		assert.Equal(t, []bool{true}, m.Decisions())

		transitions := sink.Transitions()
		assert.Contains(t, transitions, "working>waiting_input")
		assert.Contains(t, transitions, "waiting_input>working")
	})

	t.Run("always allow persists a rule", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		rules := permission.NewRuleSet()
		broker := permission.NewBroker(ruleSink{rules}, 4)

		a, _ := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModeInteractive), rules)
			cfg.Broker = broker
		})

		done := make(chan error, 1)
		go func() { done <- a.Send(context.Background(), "go") }()

		req := <-broker.Requests()
		require.NoError(t, broker.Resolve(req.ID, permission.ApprovalResponse{Approved: true, AlwaysAllow: true}))
		require.NoError(t, <-done)

		rule, ok := rules.Match("bash")
		require.True(t, ok)
		assert.Equal(t, permission.DecisionAllow, rule.Decision)
	})

	t.Run("broker failure denies and the agent stays recoverable", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		rules := permission.NewRuleSet()
		broker := permission.NewBroker(ruleSink{rules}, 4)
		broker.Close()

		a, sink := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModeInteractive), rules)
			cfg.Broker = broker
		})

		require.NoError(t, a.Send(context.Background(), "go"))

		assert.Equal(t, StateDone, a.State(), "the turn continues past the failed ask")
		assert.Equal(t, []bool{false}, m.Decisions())

		transitions := sink.Transitions()
		assert.Contains(t, transitions, "working>waiting_input")
		assert.Contains(t, transitions, "waiting_input>working", "the suspension is lifted")

		require.NoError(t, a.Reset())
		assert.Equal(t, StateIdle, a.State())
	})

	t.Run("cancellation while waiting lands idle", func(t *testing.T) {
		m := messenger.NewScriptedMessenger(script)
		rules := permission.NewRuleSet()
		broker := permission.NewBroker(ruleSink{rules}, 4)

		a, _ := newTestAgent(t, m, func(cfg *Config) {
			cfg.Engine = permission.NewEngine(staticMode(permission.ModeInteractive), rules)
			cfg.Broker = broker
		})

		done := make(chan error, 1)
		go func() { done <- a.Send(context.Background(), "go") }()

		<-broker.Requests()
		require.Eventually(t, func() bool {
			return a.State() == StateWaitingInput
		}, 2*time.Second, 10*time.Millisecond)

		a.Cancel()
		require.NoError(t, <-done, "cancellation resolves silently")

		assert.Equal(t, StateIdle, a.State())
		assert.Eventually(t, func() bool {
			return broker.Pending() == 0
		}, 2*time.Second, 10*time.Millisecond, "pending approval discarded")
	})
}

// TestCancel_DuringVerification tests that cancelling mid-verification
// lands idle and rolls the commitment back to pending
func TestCancel_DuringVerification(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.Completed{},
	})

	a, _ := newTestAgent(t, m, func(cfg *Config) {
		cfg.Verifier = commitment.NewVerifier(&assertion.HostRunner{}, commitment.WithTimeout(time.Minute))
	})
	c, err := a.Commitments().Declare("slow check", "sleep 60")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Send(context.Background(), "go") }()

	require.Eventually(t, func() bool {
		return a.State() == StateVerifying
	}, 2*time.Second, 10*time.Millisecond)

	a.Cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, commitment.StatusPending, c.Status)
}

// TestCancel_NoTurn tests that cancel without a turn is a no-op
func TestCancel_NoTurn(t *testing.T) {
	a, _ := newTestAgent(t, messenger.NewScriptedMessenger(), nil)
	a.Cancel()
	assert.Equal(t, StateIdle, a.State())
}

// TestReset tests reset semantics per state
func TestReset(t *testing.T) {
	m := messenger.NewScriptedMessenger([]messenger.StreamEvent{
		messenger.Stall(),
	})

	a, _ := newTestAgent(t, m, nil)
	require.NoError(t, a.Reset(), "idle reset is a no-op")

	done := make(chan error, 1)
	go func() { done <- a.Send(context.Background(), "go") }()

	require.Eventually(t, func() bool {
		return a.State() == StateWorking
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, a.Reset(), ErrAgentBusy)

	a.Cancel()
	require.NoError(t, <-done)
}

// TestUsage_AccumulatesAcrossTurns tests session usage bookkeeping
func TestUsage_AccumulatesAcrossTurns(t *testing.T) {
	m := messenger.NewScriptedMessenger(
		[]messenger.StreamEvent{messenger.Completed{
			Usage: messenger.Usage{InputTokens: 100, OutputTokens: 20, ContextWindow: 8192},
		}},
		[]messenger.StreamEvent{messenger.Completed{
			Usage: messenger.Usage{InputTokens: 40, OutputTokens: 10, ContextWindow: 4096},
		}},
	)

	a, _ := newTestAgent(t, m, nil)

	require.NoError(t, a.Send(context.Background(), "first"))
	require.NoError(t, a.Reset())
	require.NoError(t, a.Send(context.Background(), "second"))

	usage := a.Usage()
	assert.Equal(t, 140, usage.InputTokens)
	assert.Equal(t, 30, usage.OutputTokens)
	assert.Equal(t, 8192, usage.ContextWindow)
}

// TestDescribeToolUse tests the approval prompt rendering
func TestDescribeToolUse(t *testing.T) {
	assert.Equal(t, "bash", describeToolUse(messenger.ToolUse{Name: "bash"}))

	short := describeToolUse(messenger.ToolUse{Name: "bash", Input: json.RawMessage(`{"cmd":"ls"}`)})
	assert.Equal(t, `bash {"cmd":"ls"}`, short)

	long := describeToolUse(messenger.ToolUse{
		Name:  "write",
		Input: json.RawMessage(`{"content":"` + strings.Repeat("x", 500) + `"}`),
	})
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), len("write ")+203)
}
