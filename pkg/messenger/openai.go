package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// OpenAIMessenger implements Messenger on the OpenAI chat completions
// API with streaming. It mirrors the Anthropic backend: tool calls
// surface as ToolUse events, are gated and executed client-side, and
// results are fed back until the model stops calling tools.
type OpenAIMessenger struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
	system    string
	tools     []openai.ChatCompletionToolParam

	sessions map[string][]openai.ChatCompletionMessageParamUnion
	mu       sync.Mutex
}

// OpenAIOption configures the messenger
type OpenAIOption func(*OpenAIMessenger)

// WithOpenAIModel overrides the default model
func WithOpenAIModel(model openai.ChatModel) OpenAIOption {
	return func(m *OpenAIMessenger) { m.model = model }
}

// WithOpenAIMaxTokens overrides the default response budget
func WithOpenAIMaxTokens(n int64) OpenAIOption {
	return func(m *OpenAIMessenger) { m.maxTokens = n }
}

// WithOpenAISystemPrompt sets the system prompt for every turn
func WithOpenAISystemPrompt(prompt string) OpenAIOption {
	return func(m *OpenAIMessenger) { m.system = prompt }
}

// WithOpenAITools registers the tool definitions advertised to the model
func WithOpenAITools(tools []openai.ChatCompletionToolParam) OpenAIOption {
	return func(m *OpenAIMessenger) { m.tools = tools }
}

// NewOpenAIMessenger creates a streaming OpenAI-backed messenger
func NewOpenAIMessenger(apiKey string, opts ...OpenAIOption) *OpenAIMessenger {
	m := &OpenAIMessenger{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     openai.ChatModelGPT4o,
		maxTokens: 4096,
		sessions:  make(map[string][]openai.ChatCompletionMessageParamUnion),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Query submits one turn and returns its event stream
func (m *OpenAIMessenger) Query(ctx context.Context, turn Turn, opts Options) (*Stream, error) {
	if turn.Prompt == "" && turn.SessionID == "" {
		return nil, ErrEmptyTurn
	}

	sessionID := turn.SessionID
	var history []openai.ChatCompletionMessageParamUnion

	m.mu.Lock()
	if sessionID == "" {
		sessionID = uuid.NewString()
		if m.system != "" {
			history = append(history, openai.SystemMessage(m.system))
		}
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
		history = append(history, openai.UserMessage(turn.Prompt))
	}

	stream, prodCtx := newStream(ctx, opts.Buffer)

	go m.run(prodCtx, stream, sessionID, history, opts)

	return stream, nil
}

// run drives the agentic loop for one turn
func (m *OpenAIMessenger) run(ctx context.Context, stream *Stream, sessionID string, messages []openai.ChatCompletionMessageParamUnion, opts Options) {
	defer stream.close()

	var usage Usage

	for {
		sdkStream := m.client.Chat.Completions.NewStreaming(ctx, m.chatParams(messages))

		var content string
		toolCallsByIndex := make(map[int]*openai.ChatCompletionMessageToolCall)

		for sdkStream.Next() {
			chunk := sdkStream.Current()

			if u, ok := chunkUsage(chunk); ok {
				usage.Add(u)
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				content += delta.Content
				if !stream.emit(ctx, TextDelta{Text: delta.Content}) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				call, ok := toolCallsByIndex[idx]
				if !ok {
					call = &openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
					}
					call.Function.Name = tc.Function.Name
					toolCallsByIndex[idx] = call
				}
				call.Function.Arguments += tc.Function.Arguments
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

		if len(toolCallsByIndex) == 0 {
			messages = append(messages, openai.AssistantMessage(content))
			m.saveSession(sessionID, messages)

			stream.emit(ctx, Completed{Usage: usage, SessionID: sessionID})
			return
		}

		toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(toolCallsByIndex))
		for i := 0; i < len(toolCallsByIndex); i++ {
			if call, ok := toolCallsByIndex[i]; ok {
				toolCalls = append(toolCalls, *call)
			}
		}

		assistantMsg := openai.ChatCompletionMessage{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		}
		messages = append(messages, assistantMsg.ToParam())

		for _, call := range toolCalls {
			use := ToolUse{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			}

			if !stream.emit(ctx, use) {
				return
			}

			result, isError := m.settleToolUse(ctx, use, opts)
			if ctx.Err() != nil {
				return
			}

			if !stream.emit(ctx, ToolResult{ToolUseID: use.ID, Content: result, IsError: isError}) {
				return
			}

			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}
}

// chatParams builds the streaming request for one exchange. Usage only
// arrives on the final chunk, and only when the request opts in.
func (m *OpenAIMessenger) chatParams(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if m.maxTokens > 0 {
		params.MaxTokens = openai.Int(m.maxTokens)
	}
	if len(m.tools) > 0 {
		params.Tools = m.tools
	}
	return params
}

// chunkUsage maps the usage block carried by the final stream chunk
func chunkUsage(chunk openai.ChatCompletionChunk) (Usage, bool) {
	if chunk.Usage.TotalTokens == 0 {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  int(chunk.Usage.PromptTokens),
		OutputTokens: int(chunk.Usage.CompletionTokens),
	}, true
}

// settleToolUse gates and, when approved, executes a requested tool
func (m *OpenAIMessenger) settleToolUse(ctx context.Context, use ToolUse, opts Options) (content string, isError bool) {
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

// saveSession records the conversation for resume-by-session-id
func (m *OpenAIMessenger) saveSession(sessionID string, messages []openai.ChatCompletionMessageParamUnion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = messages
}
