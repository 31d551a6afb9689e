package openai

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/render"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// StreamRenderer writes upstream chat deltas to the client in whichever
// dialect the request arrived in. Upstream handlers hand it plain chat
// chunks; it shapes Claude Messages or Response API event sequences when
// those surfaces were used, including the framing events each protocol
// requires around the deltas.
type StreamRenderer struct {
	c         *gin.Context
	mode      int
	modelName string
	requestId string

	promptTokens int
	finishReason string
	committed    bool

	// Claude Messages event state.
	claudeStarted bool
	blockOpen     bool
	blockType     string
	blockIndex    int
	toolIndex     int

	// Response API event state.
	responseStarted bool
	itemOpen        bool
	outputIndex     int
	textBuilder     strings.Builder
	toolCalls       []model.Tool
}

// NewStreamRenderer binds a renderer to the request's dialect. The model
// name echoed to the client is the id the client originally asked for.
func NewStreamRenderer(c *gin.Context, m *meta.Meta) *StreamRenderer {
	modelName := m.OriginModelName
	if modelName == "" {
		modelName = m.ActualModelName
	}
	return &StreamRenderer{
		c:            c,
		mode:         m.Mode,
		modelName:    modelName,
		requestId:    c.GetString(ctxkey.RequestId),
		promptTokens: m.PromptTokens,
		toolIndex:    -1,
	}
}

// Committed reports whether any byte has reached the client.
func (r *StreamRenderer) Committed() bool {
	return r.committed
}

func (r *StreamRenderer) ensureCommitted() {
	if r.committed {
		return
	}
	MarkStreamCommitted(r.c)
	r.committed = true
}

// Chunk forwards one upstream chat delta in the client's dialect.
func (r *StreamRenderer) Chunk(chunk *ChatCompletionsStreamResponse) error {
	r.ensureCommitted()
	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			r.finishReason = *choice.FinishReason
		}
	}

	switch r.mode {
	case relaymode.ClaudeMessages:
		return r.claudeChunk(chunk)
	case relaymode.ResponseAPI:
		return r.responseChunk(chunk)
	default:
		chunk.Model = r.modelName
		return render.ObjectData(r.c, chunk)
	}
}

// Finish closes the protocol framing. The usage passed in is the reconciled
// final accounting, already backfilled from accumulated text if the
// upstream omitted it.
func (r *StreamRenderer) Finish(usage *model.Usage) {
	if !r.committed {
		return
	}
	switch r.mode {
	case relaymode.ClaudeMessages:
		r.claudeFinish(usage)
	case relaymode.ResponseAPI:
		r.responseFinish(usage)
	default:
		render.Done(r.c)
	}
}

// Fail emits a terminal in-band error in the dialect's native shape. Only
// valid after the commit point; before it, callers return the error to the
// failover loop instead.
func (r *StreamRenderer) Fail(errResp *model.ErrorWithStatusCode) {
	if !r.committed {
		return
	}
	switch r.mode {
	case relaymode.ClaudeMessages:
		_ = render.EventData(r.c, "error", model.ClaudeStreamEvent{
			Type:  "error",
			Error: &model.ClaudeError{Type: "api_error", Message: errResp.Message},
		})
	case relaymode.ResponseAPI:
		_ = render.EventData(r.c, "response.failed", gin.H{
			"type":  "response.failed",
			"error": errResp.Error,
		})
	default:
		_ = render.ObjectData(r.c, gin.H{"error": errResp.Error})
		render.Done(r.c)
	}
}

// --- Claude Messages shaping ---

func (r *StreamRenderer) claudeEvent(event *model.ClaudeStreamEvent) error {
	return render.EventData(r.c, event.Type, event)
}

func (r *StreamRenderer) claudeStart() error {
	if r.claudeStarted {
		return nil
	}
	r.claudeStarted = true
	return r.claudeEvent(&model.ClaudeStreamEvent{
		Type: "message_start",
		Message: &model.ClaudeResponse{
			Id:      claudeMessageId(r.requestId),
			Type:    "message",
			Role:    model.RoleAssistant,
			Model:   r.modelName,
			Content: []model.ClaudeContent{},
			Usage:   model.ClaudeUsage{InputTokens: r.promptTokens},
		},
	})
}

func (r *StreamRenderer) claudeCloseBlock() error {
	if !r.blockOpen {
		return nil
	}
	r.blockOpen = false
	if err := r.claudeEvent(&model.ClaudeStreamEvent{Type: "content_block_stop", Index: r.blockIndex}); err != nil {
		return err
	}
	r.blockIndex++
	return nil
}

func (r *StreamRenderer) claudeOpenBlock(blockType string, block *model.ClaudeContent) error {
	if r.blockOpen && r.blockType == blockType {
		return nil
	}
	if err := r.claudeCloseBlock(); err != nil {
		return err
	}
	r.blockOpen = true
	r.blockType = blockType
	return r.claudeEvent(&model.ClaudeStreamEvent{
		Type:         "content_block_start",
		Index:        r.blockIndex,
		ContentBlock: block,
	})
}

func (r *StreamRenderer) claudeChunk(chunk *ChatCompletionsStreamResponse) error {
	if err := r.claudeStart(); err != nil {
		return err
	}
	for _, choice := range chunk.Choices {
		if reasoning := choice.Delta.ReasoningContent; reasoning != "" {
			if err := r.claudeOpenBlock("thinking", &model.ClaudeContent{Type: "thinking"}); err != nil {
				return err
			}
			if err := r.claudeEvent(&model.ClaudeStreamEvent{
				Type:  "content_block_delta",
				Index: r.blockIndex,
				Delta: &model.ClaudeStreamDelta{Type: "thinking_delta", Thinking: reasoning},
			}); err != nil {
				return err
			}
		}
		if text := choice.Delta.StringContent(); text != "" {
			if err := r.claudeOpenBlock("text", &model.ClaudeContent{Type: "text"}); err != nil {
				return err
			}
			if err := r.claudeEvent(&model.ClaudeStreamEvent{
				Type:  "content_block_delta",
				Index: r.blockIndex,
				Delta: &model.ClaudeStreamDelta{Type: "text_delta", Text: text},
			}); err != nil {
				return err
			}
		}
		for _, tool := range choice.Delta.ToolCalls {
			if tool.Function == nil {
				continue
			}
			newTool := tool.Index == nil || *tool.Index != r.toolIndex || r.blockType != "tool_use"
			if newTool && tool.Function.Name != "" {
				r.blockType = "" // force a fresh tool_use block
				if err := r.claudeOpenBlock("tool_use", &model.ClaudeContent{
					Type:  "tool_use",
					Id:    tool.Id,
					Name:  tool.Function.Name,
					Input: map[string]any{},
				}); err != nil {
					return err
				}
				if tool.Index != nil {
					r.toolIndex = *tool.Index
				}
			}
			if args, ok := tool.Function.Arguments.(string); ok && args != "" {
				if err := r.claudeEvent(&model.ClaudeStreamEvent{
					Type:  "content_block_delta",
					Index: r.blockIndex,
					Delta: &model.ClaudeStreamDelta{Type: "input_json_delta", PartialJson: args},
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *StreamRenderer) claudeFinish(usage *model.Usage) {
	if !r.claudeStarted {
		if err := r.claudeStart(); err != nil {
			return
		}
	}
	_ = r.claudeCloseBlock()
	outputTokens := 0
	if usage != nil {
		outputTokens = usage.CompletionTokens
	}
	_ = r.claudeEvent(&model.ClaudeStreamEvent{
		Type: "message_delta",
		Delta: &model.ClaudeStreamDelta{
			StopReason: model.StopReasonFromFinishReason(r.finishReason),
		},
		Usage: &model.ClaudeUsage{OutputTokens: outputTokens},
	})
	_ = r.claudeEvent(&model.ClaudeStreamEvent{Type: "message_stop"})
}

// --- Response API shaping ---

func (r *StreamRenderer) responseEvent(eventType string, payload any) error {
	return render.EventData(r.c, eventType, payload)
}

func (r *StreamRenderer) responseStart() error {
	if r.responseStarted {
		return nil
	}
	r.responseStarted = true
	return r.responseEvent("response.created", gin.H{
		"type": "response.created",
		"response": &ResponseAPIResponse{
			Id:        responseIdFrom(r.requestId),
			Object:    "response",
			CreatedAt: time.Now().Unix(),
			Status:    "in_progress",
			Model:     r.modelName,
			Output:    []ResponseOutputItem{},
		},
	})
}

func (r *StreamRenderer) responseChunk(chunk *ChatCompletionsStreamResponse) error {
	if err := r.responseStart(); err != nil {
		return err
	}
	for _, choice := range chunk.Choices {
		if text := choice.Delta.StringContent(); text != "" {
			if !r.itemOpen {
				r.itemOpen = true
				if err := r.responseEvent("response.output_item.added", gin.H{
					"type":         "response.output_item.added",
					"output_index": r.outputIndex,
					"item": ResponseOutputItem{
						Id:   responseItemId("msg", r.requestId, r.outputIndex),
						Type: "message",
						Role: model.RoleAssistant,
					},
				}); err != nil {
					return err
				}
			}
			r.textBuilder.WriteString(text)
			if err := r.responseEvent("response.output_text.delta", gin.H{
				"type":         "response.output_text.delta",
				"item_id":      responseItemId("msg", r.requestId, r.outputIndex),
				"output_index": r.outputIndex,
				"delta":        text,
			}); err != nil {
				return err
			}
		}
		for _, tool := range choice.Delta.ToolCalls {
			r.toolCalls = accumulateToolCall(r.toolCalls, tool)
		}
	}
	return nil
}

func (r *StreamRenderer) responseFinish(usage *model.Usage) {
	if !r.responseStarted {
		if err := r.responseStart(); err != nil {
			return
		}
	}
	if r.itemOpen {
		_ = r.responseEvent("response.output_text.done", gin.H{
			"type":         "response.output_text.done",
			"item_id":      responseItemId("msg", r.requestId, r.outputIndex),
			"output_index": r.outputIndex,
			"text":         r.textBuilder.String(),
		})
		r.outputIndex++
		r.itemOpen = false
	}

	final := r.finalResponse(usage)
	_ = r.responseEvent("response.completed", gin.H{
		"type":     "response.completed",
		"response": final,
	})
}

func (r *StreamRenderer) finalResponse(usage *model.Usage) *ResponseAPIResponse {
	textResponse := &TextResponse{
		Id:      r.requestId,
		Model:   r.modelName,
		Created: time.Now().Unix(),
		Choices: []TextResponseChoice{{
			Index:        0,
			FinishReason: r.finishReason,
		}},
	}
	textResponse.Choices[0].Message.Role = model.RoleAssistant
	textResponse.Choices[0].Message.Content = r.textBuilder.String()
	textResponse.Choices[0].Message.ToolCalls = r.toolCalls
	if usage != nil {
		textResponse.Usage = *usage
	}
	final := ConvertChatResponseToResponseAPI(textResponse, r.requestId)
	final.Model = r.modelName
	return final
}

// accumulateToolCall merges streamed tool-call fragments by index: the first
// fragment names the function, later ones append argument text.
func accumulateToolCall(calls []model.Tool, fragment model.Tool) []model.Tool {
	if fragment.Function == nil {
		return calls
	}
	idx := len(calls) - 1
	if fragment.Index != nil {
		idx = *fragment.Index
	} else if fragment.Function.Name != "" {
		idx = len(calls)
	}
	for len(calls) <= idx {
		calls = append(calls, model.Tool{Type: "function", Function: &model.Function{}})
	}
	if idx < 0 {
		return calls
	}
	call := &calls[idx]
	if fragment.Id != "" {
		call.Id = fragment.Id
	}
	if fragment.Function.Name != "" {
		call.Function.Name = fragment.Function.Name
	}
	if args, ok := fragment.Function.Arguments.(string); ok && args != "" {
		existing, _ := call.Function.Arguments.(string)
		call.Function.Arguments = existing + args
	}
	return calls
}

// RenderTextResponse writes a buffered upstream result in the client's
// dialect, echoing the requested model id and appending the gateway_usage
// billing block.
func RenderTextResponse(c *gin.Context, m *meta.Meta, textResponse *TextResponse, usage *model.Usage) error {
	modelName := m.OriginModelName
	if modelName == "" {
		modelName = m.ActualModelName
	}
	requestId := c.GetString(ctxkey.RequestId)
	gatewayUsage := GatewayUsageFor(c, usage)

	switch m.Mode {
	case relaymode.ClaudeMessages:
		claudeResponse := chatResponseToClaude(textResponse, modelName, requestId, usage)
		claudeResponse.GatewayUsage = gatewayUsage
		c.JSON(http.StatusOK, claudeResponse)
	case relaymode.ResponseAPI:
		response := ConvertChatResponseToResponseAPI(textResponse, requestId)
		response.Model = modelName
		response.GatewayUsage = gatewayUsage
		c.JSON(http.StatusOK, response)
	default:
		textResponse.Model = modelName
		textResponse.Object = "chat.completion"
		if textResponse.Id == "" {
			textResponse.Id = "chatcmpl-" + requestId
		}
		textResponse.GatewayUsage = gatewayUsage
		c.JSON(http.StatusOK, textResponse)
	}
	return nil
}

// chatResponseToClaude lifts a buffered chat completion into the Claude
// Messages response shape.
func chatResponseToClaude(textResponse *TextResponse, modelName, requestId string, usage *model.Usage) *model.ClaudeResponse {
	response := &model.ClaudeResponse{
		Id:    claudeMessageId(requestId),
		Type:  "message",
		Role:  model.RoleAssistant,
		Model: modelName,
	}
	finishReason := "stop"
	for _, choice := range textResponse.Choices {
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if reasoning := choice.Message.ReasoningContent; reasoning != "" {
			response.Content = append(response.Content, model.ClaudeContent{Type: "thinking", Thinking: reasoning})
		}
		if text := choice.Message.StringContent(); text != "" {
			response.Content = append(response.Content, model.ClaudeContent{Type: "text", Text: text})
		}
		for _, tool := range choice.Message.ToolCalls {
			if tool.Function == nil {
				continue
			}
			var input any = map[string]any{}
			if args, ok := tool.Function.Arguments.(string); ok && args != "" {
				var parsed any
				if err := json.Unmarshal([]byte(args), &parsed); err == nil {
					input = parsed
				}
			}
			response.Content = append(response.Content, model.ClaudeContent{
				Type:  "tool_use",
				Id:    tool.Id,
				Name:  tool.Function.Name,
				Input: input,
			})
		}
	}
	response.StopReason = model.StopReasonFromFinishReason(finishReason)
	if usage != nil {
		response.Usage = model.ClaudeUsage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		}
		if usage.PromptTokensDetails != nil {
			response.Usage.CacheReadInputTokens = usage.PromptTokensDetails.CachedTokens
		}
	}
	return response
}

func claudeMessageId(requestId string) string {
	return "msg_" + strings.ReplaceAll(requestId, "-", "")
}
