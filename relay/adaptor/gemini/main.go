package gemini

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/helper"
	"github.com/modelrelay/modelrelay/common/tracing"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

// toUsage folds Gemini's usage metadata into the gateway shape. Thought
// tokens bill as completion tokens, matching how the upstream charges them.
func toUsage(metadata *UsageMetadata) *model.Usage {
	if metadata == nil {
		return nil
	}
	usage := &model.Usage{
		PromptTokens:     metadata.PromptTokenCount,
		CompletionTokens: metadata.CandidatesTokenCount + metadata.ThoughtsTokenCount,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	if metadata.CachedContentTokenCount > 0 {
		usage.PromptTokensDetails = &model.UsagePromptTokensDetails{
			CachedTokens: metadata.CachedContentTokenCount,
		}
	}
	return usage
}

func toFinishReason(geminiReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch geminiReason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content_filter"
	default:
		return "stop"
	}
}

func geminiErrorToStatus(payload *ErrorPayload, statusCode int) *model.ErrorWithStatusCode {
	if payload.Code >= 400 && payload.Code < 600 {
		statusCode = payload.Code
	}
	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: payload.Message,
			Type:    openai.ErrorTypeForStatus(statusCode),
			Code:    payload.Status,
		},
		StatusCode: statusCode,
		RawError:   errors.New(payload.Message),
	}
}

// candidateToMessage folds one candidate's parts into a chat message.
func candidateToMessage(candidate *ChatCandidate) model.Message {
	message := model.Message{Role: model.RoleAssistant}
	var text strings.Builder
	toolIndex := 0
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			index := toolIndex
			toolIndex++
			message.ToolCalls = append(message.ToolCalls, model.Tool{
				Id:    "call_" + part.FunctionCall.Name,
				Type:  "function",
				Index: &index,
				Function: &model.Function{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.Thought:
			message.ReasoningContent += part.Text
		default:
			text.WriteString(part.Text)
		}
	}
	message.Content = text.String()
	return message
}

// Handler relays a buffered generateContent response, folded into the
// client's dialect by the shared renderers.
func Handler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ErrorWrapper(err, "read_response_body_failed", http.StatusInternalServerError), nil
	}

	var geminiResponse ChatResponse
	if err := json.Unmarshal(responseBody, &geminiResponse); err != nil {
		return openai.ErrorWrapper(err, "unmarshal_response_body_failed", http.StatusInternalServerError), nil
	}
	if geminiResponse.Error != nil {
		return geminiErrorToStatus(geminiResponse.Error, resp.StatusCode), nil
	}
	if len(geminiResponse.Candidates) == 0 {
		return openai.ErrorWrapper(errors.New("no candidates returned"), "empty_response", http.StatusBadGateway), nil
	}

	m := meta.GetByContext(c)
	echoModel := m.OriginModelName
	if echoModel == "" {
		echoModel = modelName
	}

	textResponse := &openai.TextResponse{
		Id:      tracing.GenerateChatCompletionID(c),
		Model:   echoModel,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
	}
	for i := range geminiResponse.Candidates {
		candidate := &geminiResponse.Candidates[i]
		message := candidateToMessage(candidate)
		textResponse.Choices = append(textResponse.Choices, openai.TextResponseChoice{
			Index:        i,
			Message:      message,
			FinishReason: toFinishReason(candidate.FinishReason, len(message.ToolCalls) > 0),
		})
	}

	usage := toUsage(geminiResponse.UsageMetadata)
	if usage == nil || usage.TotalTokens == 0 {
		completionTokens := 0
		for _, choice := range textResponse.Choices {
			completionTokens += openai.CountTokenText(choice.Message.StringContent(), modelName)
		}
		usage = &model.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}
	}
	textResponse.Usage = *usage

	if err := openai.RenderTextResponse(c, m, textResponse, usage); err != nil {
		return openai.ErrorWrapper(err, "render_response_failed", http.StatusInternalServerError), nil
	}
	return nil, usage
}

type streamLine struct {
	text string
	err  error
}

// StreamHandler relays a streamGenerateContent SSE stream through the
// shared stream renderer, reshaping each payload into chat deltas.
func StreamHandler(c *gin.Context, resp *http.Response, promptTokens int, modelName string) (*model.ErrorWithStatusCode, *model.Usage) {
	lg := gmw.GetLogger(c)
	defer func() { _ = resp.Body.Close() }()

	m := meta.GetByContext(c)
	renderer := openai.NewStreamRenderer(c, m)
	chunkId := tracing.GenerateChatCompletionID(c)
	created := time.Now().Unix()

	var (
		usage        *model.Usage
		responseText strings.Builder
		toolIndex    int
	)

	finalUsage := func() *model.Usage {
		u := usage
		if u == nil {
			u = &model.Usage{}
		}
		if u.PromptTokens == 0 {
			u.PromptTokens = promptTokens
		}
		if u.CompletionTokens == 0 && responseText.Len() > 0 {
			u.CompletionTokens = openai.CountTokenText(responseText.String(), modelName)
		}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		return u
	}
	finish := func() (*model.ErrorWithStatusCode, *model.Usage) {
		u := finalUsage()
		renderer.Finish(u)
		return nil, u
	}
	fail := func(err error) (*model.ErrorWithStatusCode, *model.Usage) {
		errResp := openai.ErrorWrapper(err, "upstream_stream_interrupted", http.StatusBadGateway)
		renderer.Fail(errResp)
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
			if !strings.HasPrefix(text, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(text, "data:"))
			if data == "" {
				continue
			}

			var geminiResponse ChatResponse
			if err := json.Unmarshal([]byte(data), &geminiResponse); err != nil {
				lg.Warn("skipping malformed stream payload", zap.Error(err))
				continue
			}
			if geminiResponse.Error != nil {
				return fail(errors.New(geminiResponse.Error.Message))
			}
			if u := toUsage(geminiResponse.UsageMetadata); u != nil && u.TotalTokens > 0 {
				usage = u
			}

			for i := range geminiResponse.Candidates {
				candidate := &geminiResponse.Candidates[i]
				chunk := candidateToChunk(candidate, chunkId, created, modelName, &toolIndex)
				if chunk == nil {
					continue
				}
				for _, choice := range chunk.Choices {
					responseText.WriteString(choice.Delta.StringContent())
				}
				if err := renderer.Chunk(chunk); err != nil {
					lg.Warn("write stream chunk failed", zap.Error(err))
					return nil, finalUsage()
				}
			}

		case <-watchdog.C:
			lg.Warn("upstream stream idle timeout",
				zap.Duration("idle", idle), zap.Bool("committed", renderer.Committed()))
			return fail(errors.Errorf("no upstream data for %s", idle))

		case <-ctx.Done():
			return openai.AbandonedError(ctx.Err()), finalUsage()
		}
	}
}

// candidateToChunk converts one streamed candidate into a chat delta chunk.
// Tool call indices count up across the stream so concatenated argument
// fragments stay correlated.
func candidateToChunk(candidate *ChatCandidate, chunkId string, created int64, modelName string, toolIndex *int) *openai.ChatCompletionsStreamResponse {
	delta := model.Message{Role: model.RoleAssistant}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			index := *toolIndex
			*toolIndex++
			delta.ToolCalls = append(delta.ToolCalls, model.Tool{
				Id:    "call_" + part.FunctionCall.Name,
				Type:  "function",
				Index: &index,
				Function: &model.Function{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.Thought:
			delta.ReasoningContent += part.Text
		default:
			text.WriteString(part.Text)
		}
	}
	delta.Content = text.String()

	choice := openai.ChatCompletionsStreamResponseChoice{Delta: delta}
	if candidate.FinishReason != "" {
		finishReason := toFinishReason(candidate.FinishReason, len(delta.ToolCalls) > 0)
		choice.FinishReason = &finishReason
	}

	return &openai.ChatCompletionsStreamResponse{
		Id:      chunkId,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   modelName,
		Choices: []openai.ChatCompletionsStreamResponseChoice{choice},
	}
}
