package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AnthropicMessenger implements Messenger on the Anthropic Messages API
// with streaming. Tool-use blocks surface as ToolUse events, are gated,
// executed client-side, and their results fed back until the model
// stops requesting tools.
type AnthropicMessenger struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	tools     []anthropic.ToolUnionParam

	sessions map[string][]anthropic.MessageParam
	mu       sync.Mutex
}

// AnthropicOption configures the messenger
type AnthropicOption func(*AnthropicMessenger)

// WithModel overrides the default model
func WithModel(model anthropic.Model) AnthropicOption {
	return func(m *AnthropicMessenger) { m.model = model }
}

// WithMaxTokens overrides the default response budget
func WithMaxTokens(n int64) AnthropicOption {
	return func(m *AnthropicMessenger) { m.maxTokens = n }
}

// WithSystemPrompt sets the system prompt for every turn
func WithSystemPrompt(prompt string) AnthropicOption {
	return func(m *AnthropicMessenger) { m.system = prompt }
}

// WithTools registers the tool definitions advertised to the model
func WithTools(tools []anthropic.ToolUnionParam) AnthropicOption {
	return func(m *AnthropicMessenger) { m.tools = tools }
}

// NewAnthropicMessenger creates a streaming Anthropic-backed messenger
func NewAnthropicMessenger(apiKey string, opts ...AnthropicOption) *AnthropicMessenger {
	m := &AnthropicMessenger{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.ModelClaudeSonnet4_0,
		maxTokens: 4096,
		sessions:  make(map[string][]anthropic.MessageParam),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Query submits one turn and returns its event stream
func (m *AnthropicMessenger) Query(ctx context.Context, turn Turn, opts Options) (*Stream, error) {
	if turn.Prompt == "" && turn.SessionID == "" {
		return nil, ErrEmptyTurn
	}

	sessionID := turn.SessionID
	var history []anthropic.MessageParam

	m.mu.Lock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else {
		saved, ok := m.sessions[sessionID]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		history = append(history, saved...)
	}
	m.mu.Unlock()

	if turn.Prompt != "" {
		history = append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Prompt)))
	}

	stream, prodCtx := newStream(ctx, opts.Buffer)

	go m.run(prodCtx, stream, sessionID, history, opts)

	return stream, nil
}

// run drives the agentic loop for one turn: stream a response, settle
// any tool requests, repeat until the model stops asking for tools.
func (m *AnthropicMessenger) run(ctx context.Context, stream *Stream, sessionID string, messages []anthropic.MessageParam, opts Options) {
	defer stream.close()

	var usage Usage

	for {
		params := anthropic.MessageNewParams{
			Model:     m.model,
			Messages:  messages,
			MaxTokens: m.maxTokens,
		}
		if m.system != "" {
			params.System = []anthropic.TextBlockParam{{Text: m.system}}
		}
		if len(m.tools) > 0 {
			params.Tools = m.tools
		}

		sdkStream := m.client.Messages.NewStreaming(ctx, params)

		message := anthropic.Message{}
		for sdkStream.Next() {
			event := sdkStream.Current()
			if err := message.Accumulate(event); err != nil {
				stream.emit(ctx, Failed{Err: fmt.Errorf("%w: accumulate: %v", ErrStreamFailure, err)})
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.Add(Usage{InputTokens: int(ev.Message.Usage.InputTokens)})

			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !stream.emit(ctx, TextDelta{Text: delta.Text}) {
						return
					}
				case anthropic.ThinkingDelta:
					if !stream.emit(ctx, Thinking{Text: delta.Thinking}) {
						return
					}
				}

			case anthropic.MessageDeltaEvent:
				usage.Add(Usage{OutputTokens: int(ev.Usage.OutputTokens)})
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := sdkStream.Err(); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Backend stream failed")
			stream.emit(ctx, Failed{Err: fmt.Errorf("%w: %v", ErrStreamFailure, err)})
			return
		}

		toolUses := extractToolUses(message)
		if len(toolUses) == 0 {
			messages = append(messages, message.ToParam())
			m.saveSession(sessionID, messages)

			stream.emit(ctx, Completed{Usage: usage, SessionID: sessionID})
			return
		}

		messages = append(messages, message.ToParam())

		resultBlocks := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			if !stream.emit(ctx, use) {
				return
			}

			content, isError := m.settleToolUse(ctx, use, opts)
			if ctx.Err() != nil {
				return
			}

			if !stream.emit(ctx, ToolResult{ToolUseID: use.ID, Content: content, IsError: isError}) {
				return
			}

			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(use.ID, content, isError))
		}

		messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
	}
}

// settleToolUse gates and, when approved, executes a requested tool
func (m *AnthropicMessenger) settleToolUse(ctx context.Context, use ToolUse, opts Options) (content string, isError bool) {
	if opts.Gate == nil {
		return "tool use denied: no permission gate configured", true
	}

	allowed, err := opts.Gate(ctx, use)
	if err != nil {
		return fmt.Sprintf("tool use aborted: %v", err), true
	}
	if !allowed {
		log.Info().Str("tool", use.Name).Msg("Tool use denied")
		return fmt.Sprintf("permission denied for tool %q", use.Name), true
	}

	if opts.Executor == nil {
		return "tool approved but no executor is configured", true
	}

	output, err := opts.Executor.Execute(ctx, use.Name, use.Input)
	if err != nil {
		return fmt.Sprintf("tool %q failed: %v", use.Name, err), true
	}
	return output, false
}

// extractToolUses pulls the tool_use blocks out of an accumulated message
func extractToolUses(message anthropic.Message) []ToolUse {
	var uses []ToolUse
	for _, block := range message.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			uses = append(uses, ToolUse{
				ID:    tu.ID,
				Name:  tu.Name,
				Input: json.RawMessage(tu.JSON.Input.Raw()),
			})
		}
	}
	return uses
}

// saveSession records the conversation for resume-by-session-id
func (m *AnthropicMessenger) saveSession(sessionID string, messages []anthropic.MessageParam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = messages
}
