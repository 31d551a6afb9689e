package controller

import (
	"context"
	"encoding/json"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/common/graceful"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/model"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

// injectSessionHistory prepends the persisted transcript to a chat request.
// The request is re-parsed from the pristine cached body on every failover
// attempt, so injection runs once per attempt without compounding.
func injectSessionHistory(c *gin.Context, m *meta.Meta, request *relaymodel.GeneralOpenAIRequest) error {
	history, err := sessionHistoryMessages(c, m.SessionId)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	request.Messages = append(history, request.Messages...)
	c.Set(ctxkey.SessionHistoryInjected, true)
	return nil
}

// injectClaudeSessionHistory is the Messages-surface counterpart: persisted
// turns become Claude messages ahead of the client's new turn.
func injectClaudeSessionHistory(c *gin.Context, m *meta.Meta, request *relaymodel.ClaudeRequest) error {
	history, err := sessionHistoryMessages(c, m.SessionId)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	prior := make([]relaymodel.ClaudeMessage, 0, len(history))
	for _, msg := range history {
		prior = append(prior, relaymodel.ClaudeMessage{Role: msg.Role, Content: msg.Content})
	}
	request.Messages = append(prior, request.Messages...)
	c.Set(ctxkey.SessionHistoryInjected, true)
	return nil
}

func sessionHistoryMessages(c *gin.Context, sessionId string) ([]relaymodel.Message, error) {
	rows, err := model.GetSessionHistory(gmw.Ctx(c), sessionId, config.SessionHistoryLimit)
	if err != nil {
		return nil, err
	}
	messages := make([]relaymodel.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, relaymodel.Message{
			Role:    row.Role,
			Content: decodeStoredContent(row.Content),
		})
	}
	return messages, nil
}

// decodeStoredContent restores the JSON-encoded content column. Rows
// written before block encoding hold plain text and pass through as-is.
func decodeStoredContent(stored string) any {
	var content any
	if err := json.Unmarshal([]byte(stored), &content); err != nil {
		return stored
	}
	return content
}

// appendSessionTurns persists the request's user turn and the assistant
// reply produced for it. The write is keyed by (session, request id), so a
// failover replay that already appended is a no-op. Append failures never
// fail the response; the transcript just misses one exchange.
func appendSessionTurns(c *gin.Context, m *meta.Meta, userContent string, usage *relaymodel.Usage) {
	if m.SessionId == "" || userContent == "" {
		return
	}
	requestId := c.GetString(ctxkey.RequestId)
	assistantText := c.GetString(ctxkey.ResponseText)

	completionTokens := 0
	if usage != nil {
		completionTokens = usage.CompletionTokens
	}
	if completionTokens == 0 {
		completionTokens = sessionUsageTokens(assistantText, m.ActualModelName)
	}
	turns := []model.SessionMessage{
		{Role: relaymodel.RoleUser, Content: userContent, TokenCount: m.PromptTokens},
		{Role: relaymodel.RoleAssistant, Content: encodeTurnContent(assistantText), TokenCount: completionTokens},
	}

	lg := gmw.GetLogger(c)
	sessionId := m.SessionId
	graceful.GoCritical(gmw.BackgroundCtx(c), "session-append", func(ctx context.Context) {
		err := model.AppendSessionMessages(ctx, sessionId, requestId, turns)
		metrics.GlobalRecorder.RecordSessionAppend(err == nil)
		if err != nil {
			lg.Error("session append failed",
				zap.String("session_id", sessionId),
				zap.String("request_id", requestId),
				zap.Error(err))
		}
	})
}

// userTurnContent extracts the new user turn from a chat request: the last
// client-authored message, JSON-encoded to keep block structure.
func userTurnContent(request *relaymodel.GeneralOpenAIRequest) string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role != relaymodel.RoleUser {
			continue
		}
		if encoded, err := request.Messages[i].MarshalContentJSON(); err == nil {
			return encoded
		}
		return request.Messages[i].StringContent()
	}
	return ""
}

// claudeUserTurnContent is the Messages-surface counterpart.
func claudeUserTurnContent(request *relaymodel.ClaudeRequest) string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role != relaymodel.RoleUser {
			continue
		}
		if encoded, err := json.Marshal(request.Messages[i].Content); err == nil {
			return string(encoded)
		}
	}
	return ""
}

func encodeTurnContent(text string) string {
	encoded, err := json.Marshal(text)
	if err != nil {
		return text
	}
	return string(encoded)
}

// sessionUsageTokens falls back to a text estimate when the upstream did not
// report completion tokens for the appended turn.
func sessionUsageTokens(text, modelName string) int {
	if text == "" {
		return 0
	}
	return openai.CountTokenText(text, modelName)
}
