package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/apitype"
	"github.com/modelrelay/modelrelay/relay/billing"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

func getAndValidateResponseAPIRequest(c *gin.Context) (*openai.ResponseAPIRequest, error) {
	request := &openai.ResponseAPIRequest{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, err
	}
	if request.Model == "" {
		return nil, errors.New("model is required")
	}
	if request.Input == nil && request.Instructions == nil {
		return nil, errors.New("input is required")
	}
	return request, nil
}

// RelayResponseAPIHelper serves one provider attempt of a /v1/responses
// request. OpenAI bindings pass the request through natively; every other
// family serves it through chat conversion, with the response lifted back
// into Response API shape by the shared renderers.
func RelayResponseAPIHelper(c *gin.Context) *relaymodel.ErrorWithStatusCode {
	m := meta.GetByContext(c)

	request, err := getAndValidateResponseAPIRequest(c)
	if err != nil {
		return openai.ErrorWrapper(err, "invalid_response_request", http.StatusBadRequest)
	}
	m.IsStream = request.IsStreaming()
	restore := beginAttemptBudget(c, m)
	defer restore()

	chatRequest, err := openai.ConvertResponseAPIToChatRequest(request)
	if err != nil {
		return openai.ErrorWrapper(err, "convert_request_failed", http.StatusBadRequest)
	}
	m.PromptTokens = openai.CountTokenMessages(gmw.Ctx(c), chatRequest.Messages, m.ActualModelName)

	a, errResp := prepareAdaptor(m)
	if errResp != nil {
		return errResp
	}

	var converted any
	if m.ApiType == apitype.OpenAI {
		m.ResponseAPIFallback = false
		request.StripGatewayFields()
		request.Model = m.ActualModelName
		converted = request
	} else {
		m.ResponseAPIFallback = true
		c.Set(ctxkey.ResponseAPIFallback, true)
		gmw.GetLogger(c).Debug("serving response api through chat conversion",
			zap.String("provider", m.ProviderId))

		chatRequest.Model = m.ActualModelName
		chatRequest.Stream = m.IsStream
		converted, err = a.ConvertRequest(c, m.Mode, chatRequest)
		if err != nil {
			return openai.ErrorWrapper(err, "convert_request_failed", http.StatusBadRequest)
		}
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
	appendSessionTurns(c, m, userTurnContent(chatRequest), usage)
	return nil
}
