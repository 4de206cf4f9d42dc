package messenger

import (
	"context"
	"fmt"
	"sync"
)

// stall is a script-only marker: the scripted messenger blocks on it
// until the turn is cancelled. It is never delivered to consumers.
type stall struct{}

func (stall) isStreamEvent() {}

// Stall returns a script entry that blocks the stream until the turn
// is cancelled. Useful for exercising cancellation paths.
func Stall() StreamEvent {
	return stall{}
}

// ScriptedMessenger is a deterministic Messenger for tests. It replays
// pre-programmed event sequences, one script per turn, and records the
// turns it receives. ToolUse entries are routed through the gate like a
// real backend; the scripted events that follow stand in for whatever
// the backend would do with the decision.
type ScriptedMessenger struct {
	scripts   [][]StreamEvent
	turns     []Turn
	decisions []bool
	nextID    int
	mu        sync.Mutex
}

// NewScriptedMessenger creates a fake that replays one script per turn
func NewScriptedMessenger(scripts ...[]StreamEvent) *ScriptedMessenger {
	return &ScriptedMessenger{scripts: scripts}
}

// Append adds another turn script
func (s *ScriptedMessenger) Append(script []StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script)
}

// Turns returns the turns received so far
func (s *ScriptedMessenger) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Decisions returns the gate decisions observed for ToolUse entries
func (s *ScriptedMessenger) Decisions() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]bool, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Query replays the next script as a stream
func (s *ScriptedMessenger) Query(ctx context.Context, turn Turn, opts Options) (*Stream, error) {
	if turn.Prompt == "" && turn.SessionID == "" {
		return nil, ErrEmptyTurn
	}

	s.mu.Lock()
	s.turns = append(s.turns, turn)

	if len(s.scripts) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted messenger: no script for turn %q", turn.Prompt)
	}
	script := s.scripts[0]
	s.scripts = s.scripts[1:]

	sessionID := turn.SessionID
	if sessionID == "" {
		s.nextID++
		sessionID = fmt.Sprintf("scripted-%d", s.nextID)
	}
	s.mu.Unlock()

	stream, prodCtx := newStream(ctx, opts.Buffer)

	go s.replay(prodCtx, stream, script, sessionID, opts)

	return stream, nil
}

// replay emits the scripted events in order
func (s *ScriptedMessenger) replay(ctx context.Context, stream *Stream, script []StreamEvent, sessionID string, opts Options) {
	defer stream.close()

	for _, ev := range script {
		switch ev := ev.(type) {
		case stall:
			<-ctx.Done()
			return

		case ToolUse:
			if !stream.emit(ctx, ev) {
				return
			}

			allowed := false
			if opts.Gate != nil {
				var err error
				allowed, err = opts.Gate(ctx, ev)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// Real backends recover gate errors as error tool
					// results and keep the turn running.
					allowed = false
				}
			}

			s.mu.Lock()
			s.decisions = append(s.decisions, allowed)
			s.mu.Unlock()

		case Completed:
			// Stamp the session so callers can resume.
			if ev.SessionID == "" {
				ev.SessionID = sessionID
			}
			stream.emit(ctx, ev)
			return

		case Failed:
			stream.emit(ctx, ev)
			return

		default:
			if !stream.emit(ctx, ev) {
				return
			}
		}
	}
}
