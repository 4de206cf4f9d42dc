// Package messenger abstracts the LLM backend behind an ordered,
// cancellable event stream.
//
// A Messenger accepts one turn at a time and returns a Stream the
// caller pulls StreamEvents from. Every non-cancelled turn ends with a
// terminal event, Completed or Failed. Tool-use requests surface as
// events and are gated through the caller-supplied ToolGate before any
// tool executes.
package messenger

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Turn is one request submitted to the backend: a fresh prompt, or a
// continuation when SessionID names an existing conversation.
type Turn struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolGate decides whether a requested tool may run. It may suspend
// while an external approval is collected; cancellation of ctx aborts
// the wait and the turn.
type ToolGate func(ctx context.Context, use ToolUse) (bool, error)

// ToolExecutor runs an approved tool and returns its output. Execution
// errors are fed back to the model as error tool results, not surfaced
// as stream failures.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// Options configures a single query
type Options struct {
	// Gate is consulted for every tool-use request. Nil denies all.
	Gate ToolGate

	// Executor runs approved tools. Nil reports an error result to the
	// model for any approved tool.
	Executor ToolExecutor

	// Buffer sizes the stream's event channel. Zero uses a default.
	Buffer int
}

// Messenger submits turns and exposes their responses as streams
type Messenger interface {
	Query(ctx context.Context, turn Turn, opts Options) (*Stream, error)
}

const defaultBuffer = 64

// Stream is a pull-based, cancellable view of one turn's events.
// Events arrive in backend emission order and are consumed exactly once.
type Stream struct {
	events    chan StreamEvent
	cancel    context.CancelFunc
	cancelled atomic.Bool
	closeOnce sync.Once
}

// newStream creates a stream and the context its producer runs under
func newStream(parent context.Context, buffer int) (*Stream, context.Context) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	ctx, cancel := context.WithCancel(parent)
	return &Stream{
		events: make(chan StreamEvent, buffer),
		cancel: cancel,
	}, ctx
}

// Next blocks until the next event arrives, the stream closes, or ctx
// is cancelled. After the terminal event the stream closes and Next
// returns ErrStreamClosed; after Cancel it returns ErrStreamCancelled.
func (s *Stream) Next(ctx context.Context) (StreamEvent, error) {
	if s.cancelled.Load() {
		return nil, ErrStreamCancelled
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			if s.cancelled.Load() {
				return nil, ErrStreamCancelled
			}
			return nil, ErrStreamClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel terminates the stream. No further events are delivered; the
// producer is stopped through its context. Idempotent.
func (s *Stream) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

// emit delivers an event to the consumer, giving up when the producer
// context dies. Returns false when the stream should stop producing.
func (s *Stream) emit(ctx context.Context, ev StreamEvent) bool {
	if s.cancelled.Load() {
		return false
	}

	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// close seals the event channel after the terminal event
func (s *Stream) close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}
