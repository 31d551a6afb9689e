package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor/anthropic"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/billing"
	"github.com/modelrelay/modelrelay/relay/controller/validator"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

func getAndValidateClaudeRequest(c *gin.Context) (*relaymodel.ClaudeRequest, error) {
	request := &relaymodel.ClaudeRequest{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, err
	}
	if err := validator.ValidateClaudeRequest(request); err != nil {
		return nil, err
	}
	return request, nil
}

// RelayClaudeMessagesHelper serves one provider attempt of a native Claude
// Messages request. The native flag pins the response dialect, the missing
// max_tokens case defaults before any family sees the request, and
// Claude-speaking providers get the raw body passed through untouched.
func RelayClaudeMessagesHelper(c *gin.Context) *relaymodel.ErrorWithStatusCode {
	m := meta.GetByContext(c)
	c.Set(ctxkey.ClaudeMessagesNative, true)

	request, err := getAndValidateClaudeRequest(c)
	if err != nil {
		return openai.ErrorWrapper(err, "invalid_claude_request", http.StatusBadRequest)
	}
	m.IsStream = request.IsStreaming()
	restore := beginAttemptBudget(c, m)
	defer restore()
	anthropic.EnsureMaxTokens(c, request)

	if m.SessionId != "" {
		if err := injectClaudeSessionHistory(c, m, request); err != nil {
			return openai.ErrorWrapper(err, "session_history_failed", http.StatusInternalServerError)
		}
	}
	userTurn := claudeUserTurnContent(request)

	request.Model = m.ActualModelName
	m.PromptTokens = openai.CountTokenClaudeMessages(gmw.Ctx(c), request)

	a, errResp := prepareAdaptor(m)
	if errResp != nil {
		return errResp
	}
	converted, err := a.ConvertClaudeRequest(c, request)
	if err != nil {
		return openai.ErrorWrapper(err, "convert_request_failed", http.StatusBadRequest)
	}

	resp, errResp := doUpstreamRequest(c, m, a, converted)
	if errResp != nil {
		return errResp
	}

	usage, respErr := a.DoResponse(c, resp, m)
	if respErr != nil {
		if c.GetBool(ctxkey.StreamCommitted) {
			billing.Settle(c, m, usage, respErr.StatusCode, billing.OutcomeOf(respErr))
		}
		return respErr
	}

	billing.Settle(c, m, usage, http.StatusOK, billing.OutcomeSuccess)
	appendSessionTurns(c, m, userTurn, usage)
	return nil
}
