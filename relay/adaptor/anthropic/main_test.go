package anthropic

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/pricing"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

func newHandlerContext(t *testing.T, mode int, modelName string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/messages", nil)
	c.Set(ctxkey.RequestId, "0198a7f2-2222-7000-8000-abcdefabcdef")
	c.Set(ctxkey.AdmissionCompletedAt, time.Now().Add(-15*time.Millisecond))

	m := &meta.Meta{
		Mode:            mode,
		OriginModelName: modelName,
		ActualModelName: modelName,
		PromptTokens:    7,
		StartTime:       time.Now().Add(-40 * time.Millisecond),
		Price:           pricing.NewSnapshot(modelName, "anthropic", 3, 15, 0.3, 0),
	}
	m.Set2Context(c)
	return c, w
}

func claudeEventBody(events ...[2]string) io.ReadCloser {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("event: ")
		b.WriteString(ev[0])
		b.WriteString("\ndata: ")
		b.WriteString(ev[1])
		b.WriteString("\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func TestHandler_NativeClaudePassthrough(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ClaudeMessages, "claude-sonnet-4")

	body := `{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",` +
		`"content":[{"type":"text","text":"Bonjour"}],"stop_reason":"end_turn",` +
		`"usage":{"input_tokens":12,"output_tokens":5},"container":{"id":"side-channel"}}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 7, "claude-sonnet-4")
	require.Nil(t, errResp)
	require.Equal(t, 12, usage.PromptTokens)
	require.Equal(t, 5, usage.CompletionTokens)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "claude-sonnet-4", payload["model"], "model echo uses the requested id")
	require.Contains(t, payload, "gateway_usage")
	require.Contains(t, payload, "container", "unmodeled upstream fields survive the relay")
}

func TestHandler_ChatClientGetsChatShape(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "claude-sonnet-4")

	body := `{"id":"msg_02","type":"message","role":"assistant","model":"claude-sonnet-4-20250514",` +
		`"content":[{"type":"text","text":"Paris"}],"stop_reason":"end_turn",` +
		`"usage":{"input_tokens":9,"output_tokens":2}}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 7, "claude-sonnet-4")
	require.Nil(t, errResp)
	require.Equal(t, 11, usage.TotalTokens)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "chat.completion", payload["object"])
	choices := payload["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	require.Equal(t, "Paris", message["content"])
	require.Equal(t, "stop", choices[0].(map[string]any)["finish_reason"])
}

func TestHandler_UpstreamErrorEnvelope(t *testing.T) {
	c, _ := newHandlerContext(t, relaymode.ClaudeMessages, "claude-sonnet-4")

	body := `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 7, "claude-sonnet-4")
	require.Nil(t, usage)
	require.NotNil(t, errResp)
	require.Equal(t, http.StatusTooManyRequests, errResp.StatusCode)
	require.Equal(t, "rate_limit_error", errResp.Error.Type)
	require.Equal(t, "slow down", errResp.Error.Message)
}

func TestStreamHandler_NativePassthrough(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ClaudeMessages, "claude-sonnet-4")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: claudeEventBody(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_03","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"usage":{"input_tokens":11,"output_tokens":0}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Salut"}}`},
			[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":6}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		),
	}

	errResp, usage := StreamHandler(c, resp, 7, "claude-sonnet-4")
	require.Nil(t, errResp)
	require.Equal(t, 11, usage.PromptTokens)
	require.Equal(t, 6, usage.CompletionTokens)

	body := w.Body.String()
	require.Contains(t, body, "event: message_start")
	require.Contains(t, body, `"model":"claude-sonnet-4"`, "message_start echoes the requested id")
	require.Contains(t, body, "Salut")
	require.Contains(t, body, "event: message_stop")
	require.NotContains(t, body, "[DONE]")
}

func TestStreamHandler_ChatClientGetsChatChunks(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "claude-sonnet-4")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: claudeEventBody(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_04","type":"message","role":"assistant","model":"x","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		),
	}

	errResp, usage := StreamHandler(c, resp, 3, "claude-sonnet-4")
	require.Nil(t, errResp)
	require.Equal(t, 1, usage.CompletionTokens)

	body := w.Body.String()
	require.Contains(t, body, `"object":"chat.completion.chunk"`)
	require.Contains(t, body, `"content":"Hi"`)
	require.Contains(t, body, `"finish_reason":"stop"`)
	require.Contains(t, body, "[DONE]")
	require.NotContains(t, body, "event: message_start")
}

func TestStreamHandler_ToolUseConvertsToToolCalls(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "claude-sonnet-4")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: claudeEventBody(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_05","type":"message","role":"assistant","model":"x","content":[],"usage":{"input_tokens":5,"output_tokens":0}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"get_weather","input":{}}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		),
	}

	errResp, usage := StreamHandler(c, resp, 5, "claude-sonnet-4")
	require.Nil(t, errResp)
	require.Equal(t, 8, usage.CompletionTokens)

	body := w.Body.String()
	require.Contains(t, body, `"id":"toolu_9"`)
	require.Contains(t, body, `"name":"get_weather"`)
	require.Contains(t, body, `"finish_reason":"tool_calls"`)
}

func TestStreamHandler_PreCommitErrorReturnsForFailover(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ClaudeMessages, "claude-sonnet-4")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: claudeEventBody(
			[2]string{"error", `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`},
		),
	}

	errResp, _ := StreamHandler(c, resp, 5, "claude-sonnet-4")
	require.NotNil(t, errResp)
	require.Contains(t, errResp.Message, "overloaded")
	require.Empty(t, w.Body.String(), "nothing reaches the client before the commit point")
	require.False(t, c.GetBool(ctxkey.StreamCommitted))
}
