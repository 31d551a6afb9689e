package openai

import (
	"net/http"

	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/relay/model"
)

// ErrorWrapper folds an internal error into the wire error envelope. The
// code string is a stable machine-readable tag; the error type is derived
// from the HTTP status so clients can branch without parsing messages.
func ErrorWrapper(err error, code string, statusCode int) *model.ErrorWithStatusCode {
	logger.Logger.Error("relay error",
		zap.String("code", code),
		zap.Int("status_code", statusCode),
		zap.Error(err))

	return &model.ErrorWithStatusCode{
		Error: model.Error{
			Message: err.Error(),
			Type:    ErrorTypeForStatus(statusCode),
			Code:    code,
		},
		StatusCode: statusCode,
		RawError:   err,
	}
}

// statusClientClosedRequest is nginx's code for a client that hung up
// before the response finished; no stdlib constant exists for it.
const statusClientClosedRequest = 499

// AbandonedError reports an attempt cut short because the request context
// ended, which means the client went away mid-exchange.
func AbandonedError(err error) *model.ErrorWithStatusCode {
	errResp := ErrorWrapper(err, "client_disconnected", statusClientClosedRequest)
	errResp.Class = model.FailureAbandoned
	return errResp
}

// ErrorTypeForStatus maps an HTTP status to the OpenAI-style error type
// string used in the envelope.
func ErrorTypeForStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return "authentication_error"
	case statusCode == http.StatusNotFound:
		return "not_found_error"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limit_error"
	case statusCode == http.StatusPaymentRequired:
		return "insufficient_credits"
	case statusCode >= 400 && statusCode < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}
