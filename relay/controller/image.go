package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/billing"
	"github.com/modelrelay/modelrelay/relay/controller/validator"
	"github.com/modelrelay/modelrelay/relay/meta"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

const defaultImageModel = "dall-e-3"

func getAndValidateImageRequest(c *gin.Context) (*relaymodel.ImageRequest, error) {
	request := &relaymodel.ImageRequest{}
	if err := common.UnmarshalBodyReusable(c, request); err != nil {
		return nil, err
	}
	if request.Model == "" {
		request.Model = defaultImageModel
	}
	if err := validator.ValidateImageRequest(request); err != nil {
		return nil, err
	}
	return request, nil
}

// RelayImageHelper serves one provider attempt of an image generation
// request. Images bill per generated image, not per token; the handler
// reports the count through the usage block.
func RelayImageHelper(c *gin.Context) *relaymodel.ErrorWithStatusCode {
	m := meta.GetByContext(c)

	request, err := getAndValidateImageRequest(c)
	if err != nil {
		return openai.ErrorWrapper(err, "invalid_image_request", http.StatusBadRequest)
	}
	m.IsStream = false
	restore := beginAttemptBudget(c, m)
	defer restore()
	m.PromptTokens = openai.CountTokenText(request.Prompt, m.ActualModelName)

	a, errResp := prepareAdaptor(m)
	if errResp != nil {
		return errResp
	}
	request.Model = m.ActualModelName
	converted, err := a.ConvertImageRequest(c, request)
	if err != nil {
		return openai.ErrorWrapper(err, "convert_request_failed", http.StatusBadRequest)
	}

	resp, errResp := doUpstreamRequest(c, m, a, converted)
	if errResp != nil {
		return errResp
	}

	usage, respErr := a.DoResponse(c, resp, m)
	if respErr != nil {
		return respErr
	}

	billing.Settle(c, m, usage, http.StatusOK, billing.OutcomeSuccess)
	return nil
}
