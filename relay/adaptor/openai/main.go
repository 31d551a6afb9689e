package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/common/render"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

const dataPrefix = "data:"

// FirstTokenHeader carries the admission-to-first-content latency in
// milliseconds on streaming responses.
const FirstTokenHeader = "X-First-Token-Ms"

type streamLine struct {
	text string
	err  error
}

// StreamHandler relays an OpenAI-dialect SSE stream to the client, reshaped
// into the dialect the request arrived in. Usage is taken from the
// upstream's final usage chunk when present and reconstructed from the
// accumulated text otherwise.
//
// The first forwarded event is the commit point: once any byte reaches the
// client the caller must not fail over, so later failures surface as a
// terminal in-band error instead of a replayable error return.
func StreamHandler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	var (
		usage        *model.Usage
		responseText strings.Builder
		toolArgsText strings.Builder
		thinking     *ThinkingExtractor
	)
	renderer := NewStreamRenderer(c, meta.GetByContext(c))
	if thinkingEnabled(c) {
		thinking = &ThinkingExtractor{}
	}

	scanner := helper.NewSSEScanner(resp.Body)
	lines := make(chan streamLine)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- streamLine{text: scanner.Text()}:
			case <-quit:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- streamLine{err: err}:
			case <-quit:
			}
		}
	}()

	finalUsage := func() *model.Usage {
		c.Set(ctxkey.ResponseText, responseText.String())
		return reconcileStreamUsage(usage, promptTokens, modelName, responseText.String()+toolArgsText.String())
	}
	fail := func(err error) (*model.ErrorWithStatusCode, *model.Usage) {
		errResp := ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
		renderer.Fail(errResp)
		return errResp, finalUsage()
	}

	idle := config.StreamIdleTimeout()
	watchdog := time.NewTimer(idle)
	defer watchdog.Stop()

	ctx := gmw.Ctx(c)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// upstream closed without [DONE]; treat as complete
				u := finalUsage()
				renderer.Finish(u)
				return nil, u
			}
			if line.err != nil {
				lg.Warn("upstream stream read failed", zap.Error(line.err))
				return fail(line.err)
			}
			watchdog.Reset(idle)

			data := strings.TrimSpace(strings.TrimPrefix(line.text, dataPrefix))
			if !strings.HasPrefix(line.text, dataPrefix) || data == "" {
				continue
			}
			if data == render.DoneSentinel {
				u := finalUsage()
				renderer.Finish(u)
				return nil, u
			}

			var chunk ChatCompletionsStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				lg.Warn("skipping malformed stream chunk", zap.Error(err))
				continue
			}

			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			for _, choice := range chunk.Choices {
				responseText.WriteString(choice.Delta.StringContent())
				for _, tool := range choice.Delta.ToolCalls {
					if tool.Function != nil {
						if args, ok := tool.Function.Arguments.(string); ok {
							toolArgsText.WriteString(args)
						}
					}
				}
			}
			if thinking != nil {
				thinking.RewriteChunk(&chunk)
			}

			if err := renderer.Chunk(&chunk); err != nil {
				lg.Warn("write stream chunk failed", zap.Error(err))
				return nil, finalUsage()
			}

		case <-watchdog.C:
			lg.Warn("upstream stream idle timeout",
				zap.Duration("idle", idle),
				zap.Bool("committed", renderer.Committed()))
			return fail(errors.Errorf("no upstream data for %s", idle))

		case <-ctx.Done():
			return AbandonedError(ctx.Err()), finalUsage()
		}
	}
}

// MarkStreamCommitted records the first-content instant: the latency header
// must be written before the first body byte, and the failover loop needs to
// know replays are no longer possible.
func MarkStreamCommitted(c *gin.Context) {
	common.SetEventStreamHeaders(c)
	now := time.Now()
	c.Set(ctxkey.FirstTokenAt, now)
	c.Set(ctxkey.StreamCommitted, true)

	m := meta.GetByContext(c)
	if admitted, ok := c.Get(ctxkey.AdmissionCompletedAt); ok {
		if admittedAt, ok := admitted.(time.Time); ok {
			latency := now.Sub(admittedAt)
			c.Header(FirstTokenHeader, strconv.FormatInt(latency.Milliseconds(), 10))
			metrics.GlobalRecorder.RecordFirstTokenLatency(m.ProviderId, m.ActualModelName, latency)
		}
	}
}

// reconcileStreamUsage fills whatever token accounting the upstream did not
// provide from the accumulated stream text.
func reconcileStreamUsage(usage *model.Usage, promptTokens int, modelName string, completionText string) *model.Usage {
	if usage == nil {
		usage = &model.Usage{}
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens
	}
	if usage.CompletionTokens == 0 && completionText != "" {
		usage.CompletionTokens = CountTokenText(completionText, modelName)
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// Handler relays a buffered OpenAI-dialect response in the client's
// dialect. Chat clients get the upstream payload with the model echo and a
// gateway_usage block patched in; Claude and Response API clients get the
// payload converted to their shape.
func Handler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorWrapper(err, "read_response_body_failed", http.StatusInternalServerError), nil
	}

	var textResponse TextResponse
	if err := json.Unmarshal(responseBody, &textResponse); err != nil {
		return ErrorWrapper(err, "unmarshal_response_body_failed", http.StatusInternalServerError), nil
	}
	if wireErr := extractWireError(responseBody); wireErr != nil {
		return &model.ErrorWithStatusCode{
			Error:      *wireErr,
			StatusCode: resp.StatusCode,
			RawError:   errors.New(wireErr.Message),
		}, nil
	}

	thinkingChanged := false
	if thinkingEnabled(c) {
		thinkingChanged = extractThinkingFromResponse(&textResponse)
	}

	usage := textResponse.Usage
	if usage.TotalTokens == 0 || (usage.PromptTokens == 0 && usage.CompletionTokens == 0) {
		completionTokens := 0
		for _, choice := range textResponse.Choices {
			completionTokens += CountTokenText(choice.Message.StringContent(), modelName)
		}
		usage = model.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		}
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	var assistantText strings.Builder
	for _, choice := range textResponse.Choices {
		assistantText.WriteString(choice.Message.StringContent())
	}
	c.Set(ctxkey.ResponseText, assistantText.String())

	m := meta.GetByContext(c)
	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = modelName
	}
	if m.Mode == relaymode.ChatCompletions || m.Mode == relaymode.Unknown {
		// Patch the raw payload instead of re-marshalling the typed view so
		// fields the gateway does not model survive the relay.
		responseBody = rewriteResponsePayload(c, responseBody, echoModel, &usage)
		if thinkingChanged {
			responseBody = patchResponseChoices(responseBody, &textResponse)
		}
		for k, v := range resp.Header {
			if len(v) == 0 || k == "Content-Length" {
				continue
			}
			c.Writer.Header().Set(k, v[0])
		}
		c.Data(resp.StatusCode, "application/json", responseBody)
		return nil, &usage
	}

	textResponse.Usage = usage
	if err := RenderTextResponse(c, m, &textResponse, &usage); err != nil {
		return ErrorWrapper(err, "render_response_failed", http.StatusInternalServerError), nil
	}
	return nil, &usage
}

// extractWireError pulls an OpenAI-style error envelope out of a 200-class
// body, which some compatible providers use to smuggle failures.
func extractWireError(body []byte) *model.Error {
	var probe struct {
		Error *model.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	if probe.Error != nil && (probe.Error.Type != "" || probe.Error.Message != "") {
		return probe.Error
	}
	return nil
}

// rewriteResponsePayload rewrites the model echo and appends gateway_usage
// without disturbing fields the gateway does not model. Failures leave the
// upstream body untouched.
func rewriteResponsePayload(c *gin.Context, body []byte, modelName string, usage *model.Usage) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["model"] = modelName
	if gatewayUsage := GatewayUsageFor(c, usage); gatewayUsage != nil {
		payload["gateway_usage"] = gatewayUsage
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return rewritten
}

// GatewayUsageFor computes the billing echo for a buffered response from the
// price snapshot fixed at admission. Nil when no snapshot is available, such
// as on unmetered paths.
func GatewayUsageFor(c *gin.Context, usage *model.Usage) *model.GatewayUsage {
	m := meta.GetByContext(c)
	if m == nil || m.Price == nil || usage == nil {
		return nil
	}
	return &model.GatewayUsage{
		CostUSD:       m.Price.Cost(usage),
		TokensCharged: usage.TotalTokens,
		RequestMs:     time.Since(m.StartTime).Milliseconds(),
	}
}
