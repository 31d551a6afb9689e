package anthropic

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

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// Handler relays a buffered Messages response. Claude-dialect clients get
// the upstream payload with the model echo and gateway_usage patched in;
// other dialects get the payload folded into their shape by the shared
// renderers.
func Handler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ErrorWrapper(err, "read_response_body_failed", http.StatusInternalServerError), nil
	}

	var claudeResponse model.ClaudeResponse
	if err := json.Unmarshal(responseBody, &claudeResponse); err != nil {
		return openai.ErrorWrapper(err, "unmarshal_response_body_failed", http.StatusInternalServerError), nil
	}
	if claudeResponse.Error != nil && claudeResponse.Error.Type != "" {
		return claudeErrorToStatus(claudeResponse.Error, resp.StatusCode), nil
	}

	usage := claudeResponse.Usage.ToUsage()
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	var assistantText strings.Builder
	for _, block := range claudeResponse.Content {
		assistantText.WriteString(block.Text)
	}
	c.Set(ctxkey.ResponseText, assistantText.String())

	m := meta.GetByContext(c)
	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = modelName
	}

	if m.Mode == relaymode.ClaudeMessages {
		responseBody = rewriteClaudePayload(c, responseBody, echoModel, usage)
		c.Data(resp.StatusCode, "application/json", responseBody)
		return nil, usage
	}

	textResponse := ConvertClaudeResponseToChat(&claudeResponse, echoModel)
	textResponse.Usage = *usage
	if err := openai.RenderTextResponse(c, m, textResponse, usage); err != nil {
		return openai.ErrorWrapper(err, "render_response_failed", http.StatusInternalServerError), nil
	}
	return nil, usage
}

// rewriteClaudePayload patches the model echo and gateway_usage into the raw
// upstream body so fields the gateway does not model survive the relay.
func rewriteClaudePayload(c *gin.Context, body []byte, modelName string, usage *model.Usage) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["model"] = modelName
	if gatewayUsage := openai.GatewayUsageFor(c, usage); gatewayUsage != nil {
		payload["gateway_usage"] = gatewayUsage
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return rewritten
}

// claudeErrorToStatus folds an Anthropic error envelope into the gateway's
// error shape. The upstream status wins when it is already an error; type
// probing covers providers that smuggle errors in 200 bodies.
func claudeErrorToStatus(claudeErr *model.ClaudeError, statusCode int) *model.ErrorWithStatusCode {
	if statusCode < 400 {
		switch claudeErr.Type {
		case "authentication_error", "permission_error":
			statusCode = http.StatusUnauthorized
		case "not_found_error":
			statusCode = http.StatusNotFound
		case "rate_limit_error":
			statusCode = http.StatusTooManyRequests
		case "overloaded_error":
			statusCode = http.StatusServiceUnavailable
		case "invalid_request_error":
			statusCode = http.StatusBadRequest
		default:
			statusCode = http.StatusInternalServerError
		}
	}
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: claudeErr.Message,
			Type:    claudeErr.Type,
			Code:    claudeErr.Type,
		},
		StatusCode: statusCode,
		RawError:   errors.New(claudeErr.Message),
	}
}

type streamLine struct {
	text string
	err  error
}

// StreamHandler relays a Messages SSE stream. Claude-dialect clients get
// the upstream events verbatim; other dialects get each event converted to
// chat deltas and reshaped by the shared stream renderer. Usage is tapped
// from message_start and message_delta on the way through.
func StreamHandler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	m := meta.GetByContext(c)
	native := m.Mode == relaymode.ClaudeMessages
	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = modelName
	}

	var (
		claudeUsage  model.ClaudeUsage
		responseText strings.Builder
		committed    bool
		renderer     *openai.StreamRenderer
		conv         = &streamConverter{modelName: echoModel, created: time.Now().Unix()}
	)
	if !native {
		renderer = openai.NewStreamRenderer(c, m)
	}

	writeNative := func(eventName, data string) error {
		if !committed {
			openai.MarkStreamCommitted(c)
			committed = true
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventName, data); err != nil {
			return errors.Wrap(err, "write sse event")
		}
		c.Writer.Flush()
		return nil
	}

	finalUsage := func() *model.Usage {
		c.Set(ctxkey.ResponseText, responseText.String())
		usage := claudeUsage.ToUsage()
		if usage.PromptTokens == 0 {
			usage.PromptTokens = promptTokens
		}
		if usage.CompletionTokens == 0 && responseText.Len() > 0 {
			usage.CompletionTokens = openai.CountTokenText(responseText.String(), modelName)
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		return usage
	}
	finish := func() (*model.ErrorWithStatusCode, *model.Usage) {
		u := finalUsage()
		if renderer != nil {
			renderer.Finish(u)
		}
		return nil, u
	}
	fail := func(err error) (*model.ErrorWithStatusCode, *model.Usage) {
		errResp := openai.ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
		if renderer != nil {
			renderer.Fail(errResp)
		} else if committed {
			_ = writeNative("error", fmt.Sprintf(
				`{"type":"error","error":{"type":"api_error","message":%q}}`, errResp.Message))
		}
		return errResp, finalUsage()
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

	idle := config.StreamIdleTimeout()
	watchdog := time.NewTimer(idle)
	defer watchdog.Stop()

	eventName := ""
	ctx := gmw.Ctx(c)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return finish()
			}
			if line.err != nil {
				lg.Warn("upstream stream read failed", zap.Error(line.err))
				return fail(line.err)
			}
			watchdog.Reset(idle)

			text := strings.TrimSuffix(line.text, "\r")
			if strings.HasPrefix(text, "event:") {
				eventName = strings.TrimSpace(strings.TrimPrefix(text, "event:"))
				continue
			}
			if !strings.HasPrefix(text, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(text, "data:"))
			if data == "" {
				continue
			}

			var event model.ClaudeStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				lg.Warn("skipping malformed stream event", zap.Error(err))
				continue
			}
			if eventName == "" {
				eventName = event.Type
			}

			switch event.Type {
			case "ping":
				eventName = ""
				continue
			case "error":
				message := "upstream stream error"
				if event.Error != nil {
					message = event.Error.Message
				}
				return fail(errors.New(message))
			case "message_start":
				if event.Message != nil {
					claudeUsage = event.Message.Usage
				}
			case "message_delta":
				if event.Usage != nil {
					if event.Usage.OutputTokens > 0 {
						claudeUsage.OutputTokens = event.Usage.OutputTokens
					}
					if event.Usage.InputTokens > 0 {
						claudeUsage.InputTokens = event.Usage.InputTokens
					}
				}
			case "content_block_delta":
				if event.Delta != nil {
					responseText.WriteString(event.Delta.Text)
				}
			}

			if native {
				rewritten := data
				if event.Type == "message_start" {
					rewritten = rewriteStartEvent(data, echoModel)
				}
				if err := writeNative(eventName, rewritten); err != nil {
					lg.Warn("write stream event failed", zap.Error(err))
					return nil, finalUsage()
				}
			} else {
				for _, chunk := range conv.convert(&event) {
					if err := renderer.Chunk(chunk); err != nil {
						lg.Warn("write stream chunk failed", zap.Error(err))
						return nil, finalUsage()
					}
				}
			}
			eventName = ""

			if event.Type == "message_stop" {
				return finish()
			}

		case <-watchdog.C:
			lg.Warn("upstream stream idle timeout",
				zap.Duration("idle", idle), zap.Bool("committed", committed))
			return fail(errors.Errorf("no upstream data for %s", idle))

		case <-ctx.Done():
			return openai.AbandonedError(ctx.Err()), finalUsage()
		}
	}
}

// rewriteStartEvent patches the model echo inside a passthrough
// message_start event so clients see the id they asked for.
func rewriteStartEvent(data, modelName string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return data
	}
	message, ok := payload["message"].(map[string]any)
	if !ok {
		return data
	}
	message["model"] = modelName
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return data
	}
	return string(rewritten)
}

// streamConverter turns Messages stream events into chat deltas for the
// shared renderer. Tool calls are correlated by block index order.
type streamConverter struct {
	modelName string
	created   int64
	messageId string
	toolIndex int
	inTool    bool
}

func (sc *streamConverter) chunk(choice openai.ChatCompletionsStreamResponseChoice) *openai.ChatCompletionsStreamResponse {
	return &openai.ChatCompletionsStreamResponse{
		Id:      sc.messageId,
		Object:  "chat.completion.chunk",
		Created: sc.created,
		Model:   sc.modelName,
		Choices: []openai.ChatCompletionsStreamResponseChoice{choice},
	}
}

func (sc *streamConverter) convert(event *model.ClaudeStreamEvent) []*openai.ChatCompletionsStreamResponse {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			sc.messageId = event.Message.Id
		}
		return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
			Delta: model.Message{Role: model.RoleAssistant, Content: ""},
		})}

	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return nil
		}
		if sc.inTool {
			sc.toolIndex++
		}
		sc.inTool = true
		index := sc.toolIndex
		return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
			Delta: model.Message{
				ToolCalls: []model.Tool{{
					Index: &index,
					Id:    event.ContentBlock.Id,
					Type:  "function",
					Function: &model.Function{
						Name:      event.ContentBlock.Name,
						Arguments: "",
					},
				}},
			},
		})}

	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{Content: event.Delta.Text},
			})}
		case "thinking_delta":
			return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{ReasoningContent: event.Delta.Thinking},
			})}
		case "input_json_delta":
			index := sc.toolIndex
			return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{
					ToolCalls: []model.Tool{{
						Index:    &index,
						Function: &model.Function{Arguments: event.Delta.PartialJson},
					}},
				},
			})}
		}
		return nil

	case "message_delta":
		if event.Delta == nil || event.Delta.StopReason == "" {
			return nil
		}
		finishReason := model.FinishReasonFromStopReason(event.Delta.StopReason)
		return []*openai.ChatCompletionsStreamResponse{sc.chunk(openai.ChatCompletionsStreamResponseChoice{
			FinishReason: &finishReason,
		})}
	}
	return nil
}
