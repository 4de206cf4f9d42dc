package messenger

import "encoding/json"

// StreamEvent is one unit of the ordered response stream for a turn.
// It is a closed sum: the variants below are the only implementations,
// so consumers can switch exhaustively.
type StreamEvent interface {
	isStreamEvent()
}

// TextDelta carries a fragment of assistant-visible text
type TextDelta struct {
	Text string `json:"text"`
}

// Thinking carries a fragment of the model's reasoning trace
type Thinking struct {
	Text string `json:"text"`
}

// ToolUse is a request from the backend to run a named tool
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult reports the outcome of a tool execution back on the stream
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// Completed terminates a successful turn
type Completed struct {
	Usage     Usage  `json:"usage"`
	SessionID string `json:"session_id"`
}

// Failed terminates a turn on a transport or backend error
type Failed struct {
	Err error `json:"-"`
}

func (TextDelta) isStreamEvent()  {}
func (Thinking) isStreamEvent()   {}
func (ToolUse) isStreamEvent()    {}
func (ToolResult) isStreamEvent() {}
func (Completed) isStreamEvent()  {}
func (Failed) isStreamEvent()     {}

// Terminal reports whether the event closes its stream
func Terminal(ev StreamEvent) bool {
	switch ev.(type) {
	case Completed, Failed:
		return true
	default:
		return false
	}
}

// Usage tracks token consumption and cost for a session. Values only
// ever accumulate within a session.
type Usage struct {
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`
}

// Add accumulates another usage sample into u
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
	if other.ContextWindow > u.ContextWindow {
		u.ContextWindow = other.ContextWindow
	}
}
