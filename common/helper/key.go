package helper

import (
	"fmt"

	gutils "github.com/Laisky/go-utils/v6"
)

const (
	// RequestIdHeader is the response header echoing the per-request id.
	RequestIdHeader = "X-Request-Id"
)

// GenRequestID mints the per-request id used as the billing reference and
// the session-append idempotency key.
func GenRequestID() string {
	return gutils.UUID7()
}

// ChildRequestID derives the id tagged onto a failover retry so attempt
// logs stay distinguishable while billing keeps the parent reference.
func ChildRequestID(parent string, attempt int) string {
	return fmt.Sprintf("%s-r%d", parent, attempt)
}

// MaskAPIKey returns a masked version of an API key for safe logging.
// It shows the first 6 characters and last 4 characters, with "..." in between.
// For short keys (less than 12 chars), it returns "***" to avoid exposing too much.
// This function should be used when logging API key information for debugging
// without exposing the complete key.
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
