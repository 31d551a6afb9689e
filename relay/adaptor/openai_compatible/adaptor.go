// Package openai_compatible serves every upstream that implements the OpenAI
// chat completion surface without being OpenAI: hosted gateways, aggregators,
// and self-hosted inference servers. All requests are lowered to chat
// completions since these endpoints rarely implement the newer surfaces, and
// responses are rendered back into whichever dialect the client spoke.
package openai_compatible

import (
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

type Adaptor struct {
	adaptor.DefaultPricingMethods
}

func (a *Adaptor) Init(meta *meta.Meta) {}

func (a *Adaptor) GetChannelName() string {
	return "openai_compatible"
}

// GetModelList returns nothing static: compatible upstreams advertise their
// models through the catalog's /v1/models fetch, and bindings can pin a
// fallback list for when that fetch fails.
func (a *Adaptor) GetModelList() []string {
	return nil
}

// GetRequestURL routes every conversation shape to the chat completions
// path. Claude Messages and Response API requests were already lowered to
// the chat shape by the convert step, so only the path needs rewriting here.
func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	switch m.Mode {
	case relaymode.ImagesGenerations:
		return openai.GetFullRequestURL(m.BaseURL, "/v1/images/generations"), nil
	default:
		return openai.GetFullRequestURL(m.BaseURL, "/v1/chat/completions"), nil
	}
}

// SetupRequestHeader authenticates with the binding's key. When the upstream
// is itself a gateway multiplexing several vendors, meta carries the
// sub-provider's virtual key instead of the binding default.
func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.SetupCommonRequestHeader(c, req, m)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	return nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	openai.NormalizeChatRequest(c, request)
	return request, nil
}

func (a *Adaptor) ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.StripGatewayFields()
	chatRequest := openai.ConvertClaudeToChatRequest(request)
	openai.NormalizeChatRequest(c, chatRequest)
	return chatRequest, nil
}

func (a *Adaptor) ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	request.Provider = ""
	return request, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, m *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	return adaptor.DoRequestHelper(a, c, m, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, m *meta.Meta) (*model.Usage, *model.ErrorWithStatusCode) {
	if m.Mode == relaymode.ImagesGenerations {
		errResp, usage := openai.ImageHandler(c, resp)
		return usage, errResp
	}
	if m.IsStream {
		errResp, usage := openai.StreamHandler(c, resp, m.PromptTokens, m.ActualModelName)
		return usage, errResp
	}
	errResp, usage := openai.Handler(c, resp, m.PromptTokens, m.ActualModelName)
	return usage, errResp
}
