package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/billing"
	"github.com/modelrelay/modelrelay/relay/controller/validator"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

func getAndValidateTextRequest(c *gin.Context) (*relaymodel.GeneralOpenAIRequest, error) {
	request := &relaymodel.GeneralOpenAIRequest{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, err
	}
	if err := validator.ValidateTextRequest(request); err != nil {
		return nil, err
	}
	return request, nil
}

// RelayTextHelper serves one provider attempt of a chat completion request.
// The request re-parses from the cached body, converts into the attempt's
// wire protocol, and the response folds back into the chat dialect. On
// success the metering tail and the session append run asynchronously.
func RelayTextHelper(c *gin.Context) *relaymodel.ErrorWithStatusCode {
	m := meta.GetByContext(c)

	request, err := getAndValidateTextRequest(c)
	if err != nil {
		return openai.ErrorWrapper(err, "invalid_text_request", http.StatusBadRequest)
	}
	m.IsStream = request.Stream
	restore := beginAttemptBudget(c, m)
	defer restore()

	if m.SessionId != "" {
		if err := injectSessionHistory(c, m, request); err != nil {
			return openai.ErrorWrapper(err, "session_history_failed", http.StatusInternalServerError)
		}
	}
	userTurn := userTurnContent(request)

	request.Model = m.ActualModelName
	m.PromptTokens = openai.CountTokenMessages(gmw.Ctx(c), request.Messages, m.ActualModelName)

	a, errResp := prepareAdaptor(m)
	if errResp != nil {
		return errResp
	}
	converted, err := a.ConvertRequest(c, m.Mode, request)
	if err != nil {
		return openai.ErrorWrapper(err, "convert_request_failed", http.StatusBadRequest)
	}

	resp, errResp := doUpstreamRequest(c, m, a, converted)
	if errResp != nil {
		return errResp
	}

	usage, respErr := a.DoResponse(c, resp, m)
	if respErr != nil {
		// A committed stream cannot fail over, so what already streamed is
		// metered here; uncommitted failures settle in the failover engine.
		if c.GetBool(ctxkey.StreamCommitted) {
			billing.Settle(c, m, usage, respErr.StatusCode, billing.OutcomeOf(respErr))
		}
		return respErr
	}

	billing.Settle(c, m, usage, http.StatusOK, billing.OutcomeSuccess)
	appendSessionTurns(c, m, userTurn, usage)
	return nil
}
