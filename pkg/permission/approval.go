package permission

import (
	"context"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// ApprovalRequest is emitted when evaluation is undecided and an
// external collaborator must make the call.
type ApprovalRequest struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Agent       string `json:"agent"`
}

// ApprovalResponse settles an approval request. AlwaysAllow with an
// approval persists a new allow rule for the exact tool name; a denial
// never persists anything regardless of AlwaysAllow.
type ApprovalResponse struct {
	Approved    bool `json:"approved"`
	AlwaysAllow bool `json:"always_allow"`
}

// RuleSink receives rules created by always-allow approvals
type RuleSink interface {
	AddRule(rule Rule) error
}

// Broker mediates between suspended tool-use evaluations and the
// external collaborator answering them. Pending requests surface on
// Requests(); the collaborator calls Resolve with the request ID.
type Broker struct {
	sink     RuleSink
	requests chan ApprovalRequest
	pending  map[string]chan ApprovalResponse
	mu       sync.Mutex
	closed   bool
}

// NewBroker creates a broker. The sink receives always-allow rules;
// buffer sizes the request channel consumed by the UI collaborator.
func NewBroker(sink RuleSink, buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{
		sink:     sink,
		requests: make(chan ApprovalRequest, buffer),
		pending:  make(map[string]chan ApprovalResponse),
	}
}

// Requests exposes pending approval requests to the collaborator
func (b *Broker) Requests() <-chan ApprovalRequest {
	return b.requests
}

// Ask suspends until the request is resolved or the context is
// cancelled. No timeout is imposed here; the caller owns how long to
// wait. Cancellation discards the pending request.
func (b *Broker) Ask(ctx context.Context, tool, description, agent string) (Decision, error) {
	id, err := gonanoid.New()
	if err != nil {
		return DecisionUndecided, fmt.Errorf("failed to generate request id: %w", err)
	}

	req := ApprovalRequest{
		ID:          id,
		Tool:        tool,
		Description: description,
		Agent:       agent,
	}

	respCh := make(chan ApprovalResponse, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return DecisionUndecided, ErrBrokerClosed
	}
	b.pending[id] = respCh
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return DecisionUndecided, ctx.Err()
	}

	log.Info().
		Str("request_id", id).
		Str("tool", tool).
		Str("agent", agent).
		Msg("Awaiting tool approval")

	select {
	case resp := <-respCh:
		return b.settle(req, resp)
	case <-ctx.Done():
		log.Debug().
			Str("request_id", id).
			Msg("Approval request discarded by cancellation")
		return DecisionUndecided, ctx.Err()
	}
}

// Resolve delivers the collaborator's decision for a pending request
func (b *Broker) Resolve(id string, resp ApprovalResponse) error {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	ch <- resp
	return nil
}

// Pending returns the number of unresolved requests
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close rejects future asks. Outstanding asks resolve only through
// their contexts.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// settle converts a response into a decision, persisting an allow rule
// for approved always-allow responses.
func (b *Broker) settle(req ApprovalRequest, resp ApprovalResponse) (Decision, error) {
	if !resp.Approved {
		log.Info().
			Str("request_id", req.ID).
			Str("tool", req.Tool).
			Msg("Tool approval denied")
		return DecisionDeny, nil
	}

	if resp.AlwaysAllow && b.sink != nil {
		rule := Rule{Pattern: req.Tool, Decision: DecisionAllow}
		if err := b.sink.AddRule(rule); err != nil {
			return DecisionAllow, fmt.Errorf("approved, but failed to persist rule: %w", err)
		}
	}

	log.Info().
		Str("request_id", req.ID).
		Str("tool", req.Tool).
		Bool("always_allow", resp.AlwaysAllow).
		Msg("Tool approval granted")
	return DecisionAllow, nil
}
