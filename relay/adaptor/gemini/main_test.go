package gemini

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
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	c.Set(ctxkey.RequestId, "0198a7f2-3333-7000-8000-abcdefabcdef")
	c.Set(ctxkey.AdmissionCompletedAt, time.Now().Add(-10*time.Millisecond))

	m := &meta.Meta{
		Mode:            mode,
		OriginModelName: modelName,
		ActualModelName: modelName,
		PromptTokens:    5,
		StartTime:       time.Now().Add(-30 * time.Millisecond),
		Price:           pricing.NewSnapshot(modelName, "gemini", 0.3, 2.5, 0.075, 0),
	}
	m.Set2Context(c)
	return c, w
}

func sseBody(payloads ...string) io.ReadCloser {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\r\n\r\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func TestHandler_TextAndUsage(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	body := `{"candidates":[{"content":{"role":"model","parts":[{"text":"Paris"}]},"finishReason":"STOP","index":0}],` +
		`"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":2,"thoughtsTokenCount":4,"cachedContentTokenCount":3,"totalTokenCount":15},` +
		`"modelVersion":"gemini-2.5-flash-001"}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 5, "gemini-2.5-flash")
	require.Nil(t, errResp)
	require.Equal(t, 9, usage.PromptTokens)
	require.Equal(t, 6, usage.CompletionTokens, "thought tokens bill as completion tokens")
	require.Equal(t, 3, usage.CachedPromptTokens())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "chat.completion", payload["object"])
	require.Equal(t, "gemini-2.5-flash", payload["model"], "model echo uses the requested id")
	choices := payload["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	require.Equal(t, "Paris", message["content"])
	require.Equal(t, "stop", choices[0].(map[string]any)["finish_reason"])
	require.Contains(t, payload, "gateway_usage")
}

func TestHandler_FunctionCallBecomesToolCall(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-pro")

	body := `{"candidates":[{"content":{"role":"model","parts":[` +
		`{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]},"finishReason":"STOP","index":0}],` +
		`"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":7,"totalTokenCount":19}}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 5, "gemini-2.5-pro")
	require.Nil(t, errResp)
	require.Equal(t, 19, usage.TotalTokens)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	choice := payload["choices"].([]any)[0].(map[string]any)
	require.Equal(t, "tool_calls", choice["finish_reason"])
	calls := choice["message"].(map[string]any)["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	require.Equal(t, "get_weather", fn["name"])
	require.JSONEq(t, `{"city":"Paris"}`, fn["arguments"].(string))
}

func TestHandler_ThoughtPartsBecomeReasoning(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-pro")

	body := `{"candidates":[{"content":{"role":"model","parts":[` +
		`{"text":"Considering geography.","thought":true},{"text":"Paris"}]},"finishReason":"STOP","index":0}],` +
		`"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1,"thoughtsTokenCount":6,"totalTokenCount":11}}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 5, "gemini-2.5-pro")
	require.Nil(t, errResp)
	require.Equal(t, 7, usage.CompletionTokens)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	message := payload["choices"].([]any)[0].(map[string]any)["message"].(map[string]any)
	require.Equal(t, "Paris", message["content"])
	require.Equal(t, "Considering geography.", message["reasoning_content"])
}

func TestHandler_UpstreamErrorEnvelope(t *testing.T) {
	c, _ := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	body := `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}

	errResp, usage := Handler(c, resp, 5, "gemini-2.5-flash")
	require.Nil(t, usage)
	require.NotNil(t, errResp)
	require.Equal(t, http.StatusTooManyRequests, errResp.StatusCode, "embedded google.rpc code wins over the HTTP status")
	require.Equal(t, "quota exceeded", errResp.Error.Message)
	require.Equal(t, "RESOURCE_EXHAUSTED", errResp.Error.Code)
}

func TestStreamHandler_ChatChunks(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: sseBody(
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"Par"}]},"index":0}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"is"}]},"finishReason":"STOP","index":0}],`+
				`"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":2,"totalTokenCount":11}}`,
		),
	}

	errResp, usage := StreamHandler(c, resp, 5, "gemini-2.5-flash")
	require.Nil(t, errResp)
	require.Equal(t, 9, usage.PromptTokens)
	require.Equal(t, 2, usage.CompletionTokens)

	body := w.Body.String()
	require.Contains(t, body, `"object":"chat.completion.chunk"`)
	require.Contains(t, body, `"content":"Par"`)
	require.Contains(t, body, `"content":"is"`)
	require.Contains(t, body, `"finish_reason":"stop"`)
	require.Contains(t, body, "[DONE]")
}

func TestStreamHandler_MaxTokensFinish(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: sseBody(
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"truncat"}]},"finishReason":"MAX_TOKENS","index":0}],` +
				`"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":64,"totalTokenCount":67}}`,
		),
	}

	errResp, usage := StreamHandler(c, resp, 3, "gemini-2.5-flash")
	require.Nil(t, errResp)
	require.Equal(t, 64, usage.CompletionTokens)
	require.Contains(t, w.Body.String(), `"finish_reason":"length"`)
}

func TestStreamHandler_UsageBackfillFromText(t *testing.T) {
	c, _ := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: sseBody(
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello world"}]},"finishReason":"STOP","index":0}]}`,
		),
	}

	errResp, usage := StreamHandler(c, resp, 5, "gemini-2.5-flash")
	require.Nil(t, errResp)
	require.Equal(t, 5, usage.PromptTokens, "admission estimate stands in for a missing prompt count")
	require.Positive(t, usage.CompletionTokens, "completion tokens counted from accumulated text")
}

func TestStreamHandler_PreCommitErrorReturnsForFailover(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ChatCompletions, "gemini-2.5-flash")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: sseBody(
			`{"error":{"code":503,"message":"model overloaded","status":"UNAVAILABLE"}}`,
		),
	}

	errResp, _ := StreamHandler(c, resp, 5, "gemini-2.5-flash")
	require.NotNil(t, errResp)
	require.Contains(t, errResp.Message, "model overloaded")
	require.Empty(t, w.Body.String(), "nothing reaches the client before the commit point")
	require.False(t, c.GetBool(ctxkey.StreamCommitted))
}

func TestStreamHandler_ClaudeClientGetsClaudeEvents(t *testing.T) {
	c, w := newHandlerContext(t, relaymode.ClaudeMessages, "gemini-2.5-flash")

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body: sseBody(
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"Salut"}]},"finishReason":"STOP","index":0}],` +
				`"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":1,"totalTokenCount":7}}`,
		),
	}

	errResp, usage := StreamHandler(c, resp, 5, "gemini-2.5-flash")
	require.Nil(t, errResp)
	require.Equal(t, 1, usage.CompletionTokens)

	body := w.Body.String()
	require.Contains(t, body, "event: message_start")
	require.Contains(t, body, "Salut")
	require.Contains(t, body, "event: message_stop")
	require.NotContains(t, body, "[DONE]")
}
