package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

func TestThinkingExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		wantCleaned   string
		wantReasoning string
		wantChanged   bool
		setup         func(*ThinkingExtractor)
	}{
		{
			name:  "empty input",
			input: "",
		},
		{
			name:        "no tag",
			input:       "Hello world",
			wantCleaned: "Hello world",
		},
		{
			name:          "complete block in one fragment",
			input:         "Hello <think>reasoning here</think> world",
			wantCleaned:   "Hello  world",
			wantReasoning: "reasoning here",
			wantChanged:   true,
		},
		{
			name:          "block at start",
			input:         "<think>reasoning</think>content",
			wantCleaned:   "content",
			wantReasoning: "reasoning",
			wantChanged:   true,
		},
		{
			name:          "block at end",
			input:         "content<think>reasoning</think>",
			wantCleaned:   "content",
			wantReasoning: "reasoning",
			wantChanged:   true,
		},
		{
			name:        "empty block",
			input:       "Hello <think></think> world",
			wantCleaned: "Hello  world",
			wantChanged: true,
		},
		{
			name:          "opening tag only",
			input:         "Hello <think>partial reasoning",
			wantCleaned:   "Hello ",
			wantReasoning: "partial reasoning",
			wantChanged:   true,
		},
		{
			name:          "continuation inside block",
			input:         " more reasoning",
			wantReasoning: " more reasoning",
			wantChanged:   true,
			setup:         func(e *ThinkingExtractor) { e.inBlock = true },
		},
		{
			name:          "closing a block",
			input:         " final reasoning</think> world",
			wantCleaned:   " world",
			wantReasoning: " final reasoning",
			wantChanged:   true,
			setup:         func(e *ThinkingExtractor) { e.inBlock = true },
		},
		{
			name:        "already extracted once",
			input:       "Hello <think>should stay</think> world",
			wantCleaned: "Hello <think>should stay</think> world",
			setup:       func(e *ThinkingExtractor) { e.done = true },
		},
		{
			name:          "only first of two blocks",
			input:         "Hello <think>first</think> middle <think>second</think> world",
			wantCleaned:   "Hello  middle <think>second</think> world",
			wantReasoning: "first",
			wantChanged:   true,
		},
		{
			name:          "json escaped tags",
			input:         `Hello <think>reasoning</think> world`,
			wantCleaned:   "Hello  world",
			wantReasoning: "reasoning",
			wantChanged:   true,
		},
		{
			name:          "json escaped opening only",
			input:         `Hello <think>partial reasoning`,
			wantCleaned:   "Hello ",
			wantReasoning: "partial reasoning",
			wantChanged:   true,
		},
		{
			name:          "escaped block before plain block",
			input:         `Hello <think>unicode first</think> <think>plain second</think>`,
			wantCleaned:   "Hello  <think>plain second</think>",
			wantReasoning: "unicode first",
			wantChanged:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var e ThinkingExtractor
			if tt.setup != nil {
				tt.setup(&e)
			}

			cleaned, reasoning, changed := e.Extract(tt.input)
			require.Equal(t, tt.wantCleaned, cleaned)
			require.Equal(t, tt.wantReasoning, reasoning)
			require.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestThinkingExtractor_SplitAcrossChunks(t *testing.T) {
	t.Parallel()
	var e ThinkingExtractor

	cleaned, reasoning, changed := e.Extract("Hello <think>")
	require.True(t, changed)
	require.Equal(t, "Hello ", cleaned)
	require.Empty(t, reasoning)

	cleaned, reasoning, changed = e.Extract("step one, ")
	require.True(t, changed)
	require.Empty(t, cleaned)
	require.Equal(t, "step one, ", reasoning)

	cleaned, reasoning, changed = e.Extract("step two</think> answer")
	require.True(t, changed)
	require.Equal(t, " answer", cleaned)
	require.Equal(t, "step two", reasoning)

	// Once closed, later tags pass through untouched.
	cleaned, _, changed = e.Extract("tail <think>ignored</think>")
	require.False(t, changed)
	require.Equal(t, "tail <think>ignored</think>", cleaned)
}

func TestThinkingExtractor_RewriteChunk(t *testing.T) {
	t.Parallel()
	var e ThinkingExtractor

	chunk := &ChatCompletionsStreamResponse{
		Choices: []ChatCompletionsStreamResponseChoice{
			{Delta: model.Message{Content: "before <think>abc</think> after"}},
		},
	}
	e.RewriteChunk(chunk)

	require.Equal(t, "before  after", chunk.Choices[0].Delta.StringContent())
	require.Equal(t, "abc", chunk.Choices[0].Delta.ReasoningContent)
}

func TestExtractThinkingFromResponse(t *testing.T) {
	t.Parallel()

	textResponse := &TextResponse{
		Choices: []TextResponseChoice{
			{Message: model.Message{Role: "assistant", Content: "before <think>xyz</think> after"}},
			{Message: model.Message{Role: "assistant", Content: "plain"}},
		},
	}
	changed := extractThinkingFromResponse(textResponse)
	require.True(t, changed)
	require.Equal(t, "before  after", textResponse.Choices[0].Message.StringContent())
	require.Equal(t, "xyz", textResponse.Choices[0].Message.ReasoningContent)
	require.Equal(t, "plain", textResponse.Choices[1].Message.StringContent())
	require.Empty(t, textResponse.Choices[1].Message.ReasoningContent)

	untouched := &TextResponse{
		Choices: []TextResponseChoice{
			{Message: model.Message{Role: "assistant", Content: "no tags here"}},
		},
	}
	require.False(t, extractThinkingFromResponse(untouched))
}

func TestHandler_ThinkingParamExtractsReasoning(t *testing.T) {
	c, w, _ := newRendererContext(t, relaymode.ChatCompletions, "deepseek-r1")
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions?thinking=true", nil)

	body := `{
		"id": "chatcmpl-up",
		"object": "chat.completion",
		"model": "deepseek-r1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "before <think>xyz</think> after"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 9, "total_tokens": 14}
	}`
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	errResp, usage := Handler(c, resp, 5, "deepseek-r1")
	require.Nil(t, errResp)
	require.Equal(t, 14, usage.TotalTokens)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	choice := payload["choices"].([]any)[0].(map[string]any)
	message := choice["message"].(map[string]any)
	require.Equal(t, "before  after", message["content"])
	require.Equal(t, "xyz", message["reasoning_content"])
}

func TestHandler_NoThinkingParamLeavesTagsInline(t *testing.T) {
	c, w, _ := newRendererContext(t, relaymode.ChatCompletions, "deepseek-r1")

	body := `{
		"id": "chatcmpl-up",
		"object": "chat.completion",
		"model": "deepseek-r1",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "before <think>xyz</think> after"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 9, "total_tokens": 14}
	}`
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	errResp, _ := Handler(c, resp, 5, "deepseek-r1")
	require.Nil(t, errResp)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	choice := payload["choices"].([]any)[0].(map[string]any)
	message := choice["message"].(map[string]any)
	require.Equal(t, "before <think>xyz</think> after", message["content"])
	require.NotContains(t, message, "reasoning_content")
}

func TestStreamHandler_ThinkingParamRewritesDeltas(t *testing.T) {
	c, w, _ := newRendererContext(t, relaymode.ChatCompletions, "deepseek-r1")
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions?thinking=true", nil)

	chunkOne, err := json.Marshal(textChunk("answer <think>step one"))
	require.NoError(t, err)
	chunkTwo, err := json.Marshal(textChunk(" step two</think> done"))
	require.NoError(t, err)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:       sseBody(string(chunkOne), string(chunkTwo)),
	}

	errResp, usage := StreamHandler(c, resp, 5, "deepseek-r1")
	require.Nil(t, errResp)
	require.NotNil(t, usage)

	var visible, reasoning strings.Builder
	for _, ev := range parseSSEEvents(t, w.Body.String()) {
		if ev.data == "[DONE]" {
			continue
		}
		var chunk ChatCompletionsStreamResponse
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		for _, choice := range chunk.Choices {
			visible.WriteString(choice.Delta.StringContent())
			reasoning.WriteString(choice.Delta.ReasoningContent)
		}
	}
	require.Equal(t, "answer  done", visible.String())
	require.Equal(t, "step one step two", reasoning.String())
}
