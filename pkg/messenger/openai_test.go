package messenger

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenAIChatParams tests the streaming request construction
func TestOpenAIChatParams(t *testing.T) {
	m := NewOpenAIMessenger("key",
		WithOpenAIModel(openai.ChatModelGPT4o),
		WithOpenAIMaxTokens(512),
	)

	params := m.chatParams([]openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("hello"),
	})

	assert.Equal(t, openai.ChatModelGPT4o, params.Model)
	assert.Equal(t, int64(512), params.MaxTokens.Value)
	assert.True(t, params.StreamOptions.IncludeUsage.Value,
		"usage only arrives on the stream when the request opts in")
}

// TestOpenAIChunkUsage tests mapping the final chunk's usage block
func TestOpenAIChunkUsage(t *testing.T) {
	u, ok := chunkUsage(openai.ChatCompletionChunk{
		Usage: openai.CompletionUsage{
			PromptTokens:     120,
			CompletionTokens: 30,
			TotalTokens:      150,
		},
	})
	require.True(t, ok)
	assert.Equal(t, 120, u.InputTokens)
	assert.Equal(t, 30, u.OutputTokens)

	_, ok = chunkUsage(openai.ChatCompletionChunk{})
	assert.False(t, ok, "chunks without a usage block contribute nothing")
}
