package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/relay/adaptor/anthropic"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// runtimeClient builds a Converse client for the binding's region using its
// static credentials.
func runtimeClient(m *meta.Meta) *bedrockruntime.Client {
	return bedrockruntime.New(bedrockruntime.Options{
		Region: m.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(m.AccessKey, m.SecretKey, "")),
	})
}

// Handler executes a buffered Converse call and folds the reply into the
// client's dialect through the shared Claude response path.
func Handler(c *gin.Context, m *meta.Meta, params *ConverseParams) (*model.ErrorWithStatusCode, *model.Usage) {
	ctx := gmw.Ctx(c)

	out, err := runtimeClient(m).Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(m.ActualModelName),
		Messages:        params.Messages,
		System:          params.System,
		InferenceConfig: params.Inference,
		ToolConfig:      params.ToolConfig,
	})
	if err != nil {
		return converseError(err), nil
	}

	claudeResponse, convErr := converseToClaudeResponse(out)
	if convErr != nil {
		return openai.ErrorWrapper(convErr, "convert_converse_response_failed", http.StatusInternalServerError), nil
	}

	usage := claudeResponse.Usage.ToUsage()
	if usage.PromptTokens == 0 {
		usage.PromptTokens = m.PromptTokens
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	var assistantText strings.Builder
	for _, block := range claudeResponse.Content {
		assistantText.WriteString(block.Text)
	}
	c.Set(ctxkey.ResponseText, assistantText.String())

	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = m.ActualModelName
	}
	claudeResponse.Model = echoModel

	if m.Mode == relaymode.ClaudeMessages {
		claudeResponse.GatewayUsage = openai.GatewayUsageFor(c, usage)
		c.JSON(http.StatusOK, claudeResponse)
		return nil, usage
	}

	textResponse := anthropic.ConvertClaudeResponseToChat(claudeResponse, echoModel)
	textResponse.Usage = *usage
	if err := openai.RenderTextResponse(c, m, textResponse, usage); err != nil {
		return openai.ErrorWrapper(err, "render_response_failed", http.StatusInternalServerError), nil
	}
	return nil, usage
}

// converseToClaudeResponse lifts a Converse reply into the Claude Messages
// shape so the response folding shared with the anthropic family applies.
func converseToClaudeResponse(out *bedrockruntime.ConverseOutput) (*model.ClaudeResponse, error) {
	resp := &model.ClaudeResponse{
		Id:         "msg_" + helper.GenRequestID(),
		Type:       "message",
		Role:       model.RoleAssistant,
		StopReason: claudeStopReason(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = model.ClaudeUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	message, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	for _, block := range message.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			resp.Content = append(resp.Content, model.ClaudeContent{Type: "text", Text: b.Value})
		case *types.ContentBlockMemberToolUse:
			var input any = map[string]any{}
			if b.Value.Input != nil {
				if raw, err := b.Value.Input.MarshalSmithyDocument(); err == nil {
					_ = json.Unmarshal(raw, &input)
				}
			}
			resp.Content = append(resp.Content, model.ClaudeContent{
				Type:  "tool_use",
				Id:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: input,
			})
		case *types.ContentBlockMemberReasoningContent:
			if rc, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				resp.Content = append(resp.Content, model.ClaudeContent{
					Type:     "thinking",
					Thinking: aws.ToString(rc.Value.Text),
				})
			}
		}
	}
	return resp, nil
}

func claudeStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonMaxTokens:
		return "max_tokens"
	case types.StopReasonToolUse:
		return "tool_use"
	case types.StopReasonStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// StreamHandler executes ConverseStream and re-emits the event stream in
// the client's dialect. Claude-dialect clients get synthesized Messages
// events; other dialects flow through the shared chat stream renderer.
func StreamHandler(c *gin.Context, m *meta.Meta, params *ConverseParams) (*model.ErrorWithStatusCode, *model.Usage) {
	ctx := gmw.Ctx(c)
	lg := gmw.GetLogger(c)

	out, err := runtimeClient(m).ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(m.ActualModelName),
		Messages:        params.Messages,
		System:          params.System,
		InferenceConfig: params.Inference,
		ToolConfig:      params.ToolConfig,
	})
	if err != nil {
		return converseError(err), nil
	}
	stream := out.GetStream()
	defer func() { _ = stream.Close() }()

	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = m.ActualModelName
	}

	native := m.Mode == relaymode.ClaudeMessages
	emitter := &claudeStreamEmitter{
		c:         c,
		messageId: "msg_" + helper.GenRequestID(),
		modelName: echoModel,
		created:   time.Now().Unix(),
	}
	var renderer *openai.StreamRenderer
	if !native {
		renderer = openai.NewStreamRenderer(c, m)
	}

	var (
		usage        model.ClaudeUsage
		responseText strings.Builder
		stopReason   = "end_turn"
	)
	emit := func(event *model.ClaudeStreamEvent) error {
		if native {
			return emitter.write(event)
		}
		for _, chunk := range emitter.toChatChunks(event) {
			if err := renderer.Chunk(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	finalUsage := func() *model.Usage {
		c.Set(ctxkey.ResponseText, responseText.String())
		u := usage.ToUsage()
		if u.PromptTokens == 0 {
			u.PromptTokens = m.PromptTokens
		}
		if u.CompletionTokens == 0 && responseText.Len() > 0 {
			u.CompletionTokens = openai.CountTokenText(responseText.String(), m.ActualModelName)
		}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		return u
	}

	if err := emit(&model.ClaudeStreamEvent{
		Type: "message_start",
		Message: &model.ClaudeResponse{
			Id:    emitter.messageId,
			Type:  "message",
			Role:  model.RoleAssistant,
			Model: echoModel,
		},
	}); err != nil {
		lg.Warn("write stream event failed", zap.Error(err))
		return nil, finalUsage()
	}

	for event := range stream.Events() {
		var claudeEvent *model.ClaudeStreamEvent
		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			claudeEvent = startEvent(&e.Value)
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			claudeEvent = deltaEvent(&e.Value, &responseText)
		case *types.ConverseStreamOutputMemberContentBlockStop:
			claudeEvent = &model.ClaudeStreamEvent{
				Type:  "content_block_stop",
				Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = claudeStopReason(e.Value.StopReason)
		case *types.ConverseStreamOutputMemberMetadata:
			if e.Value.Usage != nil {
				usage.InputTokens = int(aws.ToInt32(e.Value.Usage.InputTokens))
				usage.OutputTokens = int(aws.ToInt32(e.Value.Usage.OutputTokens))
			}
		}
		if claudeEvent == nil {
			continue
		}
		if err := emit(claudeEvent); err != nil {
			lg.Warn("write stream event failed", zap.Error(err))
			return nil, finalUsage()
		}
	}

	if err := stream.Err(); err != nil {
		lg.Warn("converse stream interrupted", zap.Error(err))
		errResp := converseError(err)
		if renderer != nil {
			renderer.Fail(errResp)
		} else if emitter.committed {
			_ = emitter.write(&model.ClaudeStreamEvent{
				Type:  "error",
				Error: &model.ClaudeError{Type: "api_error", Message: errResp.Message},
			})
		}
		return errResp, finalUsage()
	}

	u := finalUsage()
	if native {
		_ = emitter.write(&model.ClaudeStreamEvent{
			Type:  "message_delta",
			Delta: &model.ClaudeStreamDelta{StopReason: stopReason},
			Usage: &model.ClaudeUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens},
		})
		_ = emitter.write(&model.ClaudeStreamEvent{Type: "message_stop"})
	} else {
		finishReason := model.FinishReasonFromStopReason(stopReason)
		_ = renderer.Chunk(emitter.chunk(openai.ChatCompletionsStreamResponseChoice{
			FinishReason: &finishReason,
		}))
		renderer.Finish(u)
	}
	return nil, u
}

func startEvent(v *types.ContentBlockStartEvent) *model.ClaudeStreamEvent {
	index := int(aws.ToInt32(v.ContentBlockIndex))
	if start, ok := v.Start.(*types.ContentBlockStartMemberToolUse); ok {
		return &model.ClaudeStreamEvent{
			Type:  "content_block_start",
			Index: index,
			ContentBlock: &model.ClaudeContent{
				Type: "tool_use",
				Id:   aws.ToString(start.Value.ToolUseId),
				Name: aws.ToString(start.Value.Name),
			},
		}
	}
	return &model.ClaudeStreamEvent{
		Type:         "content_block_start",
		Index:        index,
		ContentBlock: &model.ClaudeContent{Type: "text"},
	}
}

func deltaEvent(v *types.ContentBlockDeltaEvent, responseText *strings.Builder) *model.ClaudeStreamEvent {
	index := int(aws.ToInt32(v.ContentBlockIndex))
	switch delta := v.Delta.(type) {
	case *types.ContentBlockDeltaMemberText:
		responseText.WriteString(delta.Value)
		return &model.ClaudeStreamEvent{
			Type:  "content_block_delta",
			Index: index,
			Delta: &model.ClaudeStreamDelta{Type: "text_delta", Text: delta.Value},
		}
	case *types.ContentBlockDeltaMemberToolUse:
		return &model.ClaudeStreamEvent{
			Type:  "content_block_delta",
			Index: index,
			Delta: &model.ClaudeStreamDelta{Type: "input_json_delta", PartialJson: aws.ToString(delta.Value.Input)},
		}
	case *types.ContentBlockDeltaMemberReasoningContent:
		if rc, ok := delta.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
			return &model.ClaudeStreamEvent{
				Type:  "content_block_delta",
				Index: index,
				Delta: &model.ClaudeStreamDelta{Type: "thinking_delta", Thinking: rc.Value},
			}
		}
	}
	return nil
}

// claudeStreamEmitter writes synthesized Claude Messages events for native
// clients and converts them to chat chunks for everyone else.
type claudeStreamEmitter struct {
	c         *gin.Context
	messageId string
	modelName string
	created   int64
	committed bool
	toolIndex int
	inTool    bool
}

func (e *claudeStreamEmitter) write(event *model.ClaudeStreamEvent) error {
	if !e.committed {
		openai.MarkStreamCommitted(e.c)
		e.committed = true
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal stream event")
	}
	if _, err := fmt.Fprintf(e.c.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return errors.Wrap(err, "write sse event")
	}
	e.c.Writer.Flush()
	return nil
}

func (e *claudeStreamEmitter) chunk(choice openai.ChatCompletionsStreamResponseChoice) *openai.ChatCompletionsStreamResponse {
	return &openai.ChatCompletionsStreamResponse{
		Id:      e.messageId,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.modelName,
		Choices: []openai.ChatCompletionsStreamResponseChoice{choice},
	}
}

func (e *claudeStreamEmitter) toChatChunks(event *model.ClaudeStreamEvent) []*openai.ChatCompletionsStreamResponse {
	switch event.Type {
	case "message_start":
		return []*openai.ChatCompletionsStreamResponse{e.chunk(openai.ChatCompletionsStreamResponseChoice{
			Delta: model.Message{Role: model.RoleAssistant, Content: ""},
		})}
	case "content_block_start":
		if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
			return nil
		}
		if e.inTool {
			e.toolIndex++
		}
		e.inTool = true
		index := e.toolIndex
		return []*openai.ChatCompletionsStreamResponse{e.chunk(openai.ChatCompletionsStreamResponseChoice{
			Delta: model.Message{
				ToolCalls: []model.Tool{{
					Index:    &index,
					Id:       event.ContentBlock.Id,
					Type:     "function",
					Function: &model.Function{Name: event.ContentBlock.Name, Arguments: ""},
				}},
			},
		})}
	case "content_block_delta":
		if event.Delta == nil {
			return nil
		}
		switch event.Delta.Type {
		case "text_delta":
			return []*openai.ChatCompletionsStreamResponse{e.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{Content: event.Delta.Text},
			})}
		case "thinking_delta":
			return []*openai.ChatCompletionsStreamResponse{e.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{ReasoningContent: event.Delta.Thinking},
			})}
		case "input_json_delta":
			index := e.toolIndex
			return []*openai.ChatCompletionsStreamResponse{e.chunk(openai.ChatCompletionsStreamResponseChoice{
				Delta: model.Message{
					ToolCalls: []model.Tool{{
						Index:    &index,
						Function: &model.Function{Arguments: event.Delta.PartialJson},
					}},
				},
			})}
		}
	}
	return nil
}

// converseError maps SDK failures onto gateway error envelopes with the
// status codes the failover classifier understands.
func converseError(err error) *model.ErrorWithStatusCode {
	statusCode := http.StatusBadGateway
	code := "bedrock_error"

	var throttle *types.ThrottlingException
	var validation *types.ValidationException
	var denied *types.AccessDeniedException
	var notFound *types.ResourceNotFoundException
	var timeout *types.ModelTimeoutException
	var unavailable *types.ServiceUnavailableException
	switch {
	case errors.As(err, &throttle):
		statusCode, code = http.StatusTooManyRequests, "bedrock_throttled"
	case errors.As(err, &validation):
		statusCode, code = http.StatusBadRequest, "bedrock_validation"
	case errors.As(err, &denied):
		statusCode, code = http.StatusUnauthorized, "bedrock_access_denied"
	case errors.As(err, &notFound):
		statusCode, code = http.StatusNotFound, "bedrock_model_not_found"
	case errors.As(err, &timeout):
		statusCode, code = http.StatusGatewayTimeout, "bedrock_timeout"
	case errors.As(err, &unavailable):
		statusCode, code = http.StatusServiceUnavailable, "bedrock_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		statusCode, code = http.StatusGatewayTimeout, "bedrock_timeout"
	}
	return openai.ErrorWrapper(err, code, statusCode)
}
