package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/relay/model"
)

// Wire error types for admission failures. These are the `error.type`
// values clients branch on; the HTTP status carries the coarse class.
const (
	ErrTypeUnauthenticated     = "unauthenticated"
	ErrTypeForbidden           = "forbidden"
	ErrTypeNotFound            = "not_found"
	ErrTypeInsufficientCredits = "insufficient_credits"
	ErrTypeTrialExhausted      = "trial_exhausted"
	ErrTypePlanLimitExceeded   = "plan_limit_exceeded"
	ErrTypeRateLimited         = "rate_limited"
	ErrTypeValidation          = "validation"
)

// AbortWithError rejects the request with the gateway error envelope:
// {"error": {"type", "message"}}. Client-caused statuses log as WARN,
// server faults as ERROR.
func AbortWithError(c *gin.Context, statusCode int, errType string, err error) {
	abortWithEnvelope(c, statusCode, errType, err, 0)
}

// AbortWithRetry rejects the request like AbortWithError but also sets the
// Retry-After header and the retry_after envelope field, rounded up to
// whole seconds.
func AbortWithRetry(c *gin.Context, statusCode int, errType string, err error, retryAfter time.Duration) {
	abortWithEnvelope(c, statusCode, errType, err, retryAfter)
}

func abortWithEnvelope(c *gin.Context, statusCode int, errType string, err error, retryAfter time.Duration) {
	lg := gmw.GetLogger(c)
	if statusCode >= 400 && statusCode < 500 {
		lg.Warn("request rejected",
			zap.Int("status_code", statusCode),
			zap.String("type", errType),
			zap.Error(err))
	} else {
		lg.Error("request aborted",
			zap.Int("status_code", statusCode),
			zap.String("type", errType),
			zap.Error(err))
	}

	wireErr := model.Error{
		Message: err.Error(),
		Type:    errType,
	}
	if retryAfter > 0 {
		seconds := int((retryAfter + time.Second - 1) / time.Second)
		wireErr.RetryAfter = &seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.JSON(statusCode, gin.H{"error": wireErr})
	c.Abort()
}

// ModelRequest is the minimal body projection admission needs before the
// dialect controllers parse the full request.
type ModelRequest struct {
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	SessionId string `json:"session_id"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// getModelRequest peeks at the request body for the fields that drive
// routing and admission. The body stays reusable for the controllers.
func getModelRequest(c *gin.Context) (*ModelRequest, error) {
	var req ModelRequest
	if err := common.UnmarshalBodyReusable(c, &req); err != nil {
		return nil, errors.Wrap(err, "parse request body")
	}
	if strings.HasPrefix(c.Request.URL.Path, "/v1/images/generations") && req.Model == "" {
		req.Model = "dall-e-3"
	}
	if req.Model == "" {
		return nil, errors.New("missing required field: model")
	}
	return &req, nil
}

// GetBearerCredential extracts the opaque credential from the request. The
// Authorization bearer form is canonical; x-api-key keeps Anthropic SDKs
// working against /v1/messages.
func GetBearerCredential(c *gin.Context) string {
	key := c.Request.Header.Get("Authorization")
	key = strings.TrimPrefix(key, "Bearer ")
	if key == "" {
		key = c.Request.Header.Get("X-Api-Key")
	}
	return strings.TrimSpace(key)
}

// scopeForPath maps an endpoint to the credential scope that guards it.
func scopeForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return "chat"
	case strings.HasPrefix(path, "/v1/messages"):
		return "messages"
	case strings.HasPrefix(path, "/v1/responses"):
		return "responses"
	case strings.HasPrefix(path, "/v1/images"):
		return "images"
	case strings.HasPrefix(path, "/v1/models"):
		return "models"
	default:
		return ""
	}
}
