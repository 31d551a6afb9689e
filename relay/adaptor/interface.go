package adaptor

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

// Adaptor translates gateway requests into one provider family's native wire
// protocol and folds the provider's responses back into the dialect the
// client spoke. One stateless instance is created per attempt; Init binds it
// to the attempt's meta before any other method is called.
type Adaptor interface {
	Init(meta *meta.Meta)
	// GetRequestURL builds the full upstream URL for the current attempt.
	GetRequestURL(meta *meta.Meta) (string, error)
	// SetupRequestHeader injects the family's auth and content headers into
	// the outbound request.
	SetupRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) error
	// ConvertRequest rewrites an OpenAI-dialect request into the family's
	// native request shape. The returned value is marshalled as the upstream
	// body unless the adaptor performs its own transport.
	ConvertRequest(c *gin.Context, relayMode int, request *model.GeneralOpenAIRequest) (any, error)
	// ConvertClaudeRequest rewrites a Claude Messages request into the
	// family's native request shape.
	ConvertClaudeRequest(c *gin.Context, request *model.ClaudeRequest) (any, error)
	// ConvertImageRequest rewrites an image generation request into the
	// family's native request shape.
	ConvertImageRequest(c *gin.Context, request *model.ImageRequest) (any, error)
	DoRequest(c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error)
	// DoResponse consumes the upstream response, writes the client-facing
	// response in the dialect recorded in meta, and reports token usage for
	// billing. A nil usage with a nil error means the caller must fall back
	// to estimation.
	DoResponse(c *gin.Context, resp *http.Response, meta *meta.Meta) (usage *model.Usage, err *model.ErrorWithStatusCode)
	GetModelList() []string
	GetChannelName() string
	// GetDefaultModelPricing returns the family's static price table, keyed
	// by upstream model id.
	GetDefaultModelPricing() map[string]ModelConfig
}
