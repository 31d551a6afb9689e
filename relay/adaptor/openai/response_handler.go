package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/relay/model"
)

// ResponseAPIHandler relays a buffered /v1/responses result from an upstream
// that speaks the Response API natively. The payload passes through with the
// model echo and gateway_usage patched in; usage comes from the upstream's
// own accounting.
func ResponseAPIHandler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorWrapper(err, "read_response_body_failed", http.StatusInternalServerError), nil
	}

	var response ResponseAPIResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return ErrorWrapper(err, "unmarshal_response_body_failed", http.StatusInternalServerError), nil
	}
	if response.Error != nil && response.Error.Message != "" {
		return &model.ErrorWithStatusCode{
			Error:      *response.Error,
			StatusCode: resp.StatusCode,
			RawError:   errors.New(response.Error.Message),
		}, nil
	}

	usage := response.Usage.ToModelUsage()
	if usage == nil || usage.TotalTokens == 0 {
		usage = &model.Usage{PromptTokens: promptTokens}
		for _, item := range response.Output {
			for _, part := range item.Content {
				usage.CompletionTokens += CountTokenText(part.Text, modelName)
			}
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	responseBody = rewriteResponseAPIPayload(c, responseBody, modelName, usage)
	for k, v := range resp.Header {
		if len(v) == 0 || k == "Content-Length" {
			continue
		}
		c.Writer.Header().Set(k, v[0])
	}
	c.Data(resp.StatusCode, "application/json", responseBody)
	return nil, usage
}

// rewriteResponseAPIPayload patches the model echo and gateway_usage into a
// raw Response API body without disturbing unmodelled fields.
func rewriteResponseAPIPayload(c *gin.Context, body []byte, modelName string, usage *model.Usage) []byte {
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

// ResponseAPIStreamHandler relays a native Response API event stream. Events
// pass through verbatim except the response envelope events, which get the
// model echo rewritten; usage is tapped from the response.completed event.
func ResponseAPIStreamHandler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	var usage *model.Usage
	committed := false

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
		if usage == nil {
			usage = &model.Usage{PromptTokens: promptTokens, TotalTokens: promptTokens}
		}
		return usage
	}
	fail := func(err error) (*model.ErrorWithStatusCode, *model.Usage) {
		errResp := ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
		if committed {
			_ = writeResponseEvent(c, "response.failed", []byte(buildResponseFailedEvent(errResp)))
		}
		return errResp, finalUsage()
	}

	idle := config.StreamIdleTimeout()
	watchdog := time.NewTimer(idle)
	defer watchdog.Stop()

	currentEvent := ""
	ctx := gmw.Ctx(c)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil, finalUsage()
			}
			if line.err != nil {
				lg.Warn("upstream stream read failed", zap.Error(line.err))
				return fail(line.err)
			}
			watchdog.Reset(idle)

			text := strings.TrimSuffix(line.text, "\r")
			if strings.HasPrefix(text, "event:") {
				currentEvent = strings.TrimSpace(strings.TrimPrefix(text, "event:"))
				continue
			}
			if !strings.HasPrefix(text, dataPrefix) {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(text, dataPrefix))
			if data == "" || data == "[DONE]" {
				continue
			}

			if !committed {
				MarkStreamCommitted(c)
				committed = true
			}

			eventType := currentEvent
			if eventType == "" {
				eventType = gjson.Get(data, "type").String()
			}
			payload := []byte(data)

			switch eventType {
			case "response.completed", "response.incomplete", "response.failed":
				usage = tapResponseUsage(data, promptTokens)
				payload = patchResponseEnvelope(c, payload, modelName, usage)
			case "response.created", "response.in_progress":
				payload = patchResponseEnvelope(c, payload, modelName, nil)
			}

			if err := writeResponseEvent(c, eventType, payload); err != nil {
				lg.Warn("write stream event failed", zap.Error(err))
				return nil, finalUsage()
			}
			currentEvent = ""

		case <-watchdog.C:
			lg.Warn("upstream stream idle timeout",
				zap.Duration("idle", idle),
				zap.Bool("committed", committed))
			return fail(errors.Errorf("no upstream data for %s", idle))

		case <-ctx.Done():
			return AbandonedError(ctx.Err()), finalUsage()
		}
	}
}

// tapResponseUsage reads the usage block out of a terminal response event
// without a full decode.
func tapResponseUsage(data string, promptTokens int) *model.Usage {
	usage := &model.Usage{
		PromptTokens:     int(gjson.Get(data, "response.usage.input_tokens").Int()),
		CompletionTokens: int(gjson.Get(data, "response.usage.output_tokens").Int()),
		TotalTokens:      int(gjson.Get(data, "response.usage.total_tokens").Int()),
	}
	if cached := gjson.Get(data, "response.usage.input_tokens_details.cached_tokens"); cached.Exists() {
		usage.PromptTokensDetails = &model.UsagePromptTokensDetails{CachedTokens: int(cached.Int())}
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// patchResponseEnvelope rewrites response.model inside an envelope event and,
// on terminal events, appends the gateway_usage block.
func patchResponseEnvelope(c *gin.Context, data []byte, modelName string, usage *model.Usage) []byte {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return data
	}
	response, ok := payload["response"].(map[string]any)
	if !ok {
		return data
	}
	response["model"] = modelName
	if usage != nil {
		if gatewayUsage := GatewayUsageFor(c, usage); gatewayUsage != nil {
			response["gateway_usage"] = gatewayUsage
		}
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return data
	}
	return rewritten
}

func writeResponseEvent(c *gin.Context, eventType string, payload []byte) error {
	if eventType == "" {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return errors.Wrap(err, "write sse event")
		}
	} else {
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
			return errors.Wrap(err, "write sse event")
		}
	}
	c.Writer.Flush()
	return nil
}

func buildResponseFailedEvent(errResp *model.ErrorWithStatusCode) string {
	raw, err := json.Marshal(gin.H{
		"type":  "response.failed",
		"error": errResp.Error,
	})
	if err != nil {
		return `{"type":"response.failed"}`
	}
	return string(raw)
}
