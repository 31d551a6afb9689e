package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultLogBodyLimit caps log previews of request/response payloads.
	DefaultLogBodyLimit = 4096
	// logTruncationSuffix marks truncated log values.
	logTruncationSuffix = "...[truncated]"
	// binaryRedactionThreshold is the string length beyond which
	// base64/data-URL content is redacted instead of truncated.
	binaryRedactionThreshold = 256
)

// SanitizePayloadForLogging returns a preview of the payload safe to log and
// whether it was truncated. JSON payloads are walked so that long string
// leaves (typically base64 images) are redacted individually; anything else
// is truncated as raw bytes.
func SanitizePayloadForLogging(body []byte, limit int) ([]byte, bool) {
	if limit <= 0 {
		return body, false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			if sanitizedBytes, err := json.Marshal(sanitizeLogValue(payload, limit)); err == nil {
				if len(sanitizedBytes) > limit {
					return truncateForLog(sanitizedBytes, limit), true
				}
				return sanitizedBytes, false
			}
		}
	}

	if len(body) > limit {
		return truncateForLog(body, limit), true
	}
	return body, false
}

func sanitizeLogValue(value any, limit int) any {
	switch v := value.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(v))
		for key, inner := range v {
			sanitized[key] = sanitizeLogValue(inner, limit)
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(v))
		for i, inner := range v {
			sanitized[i] = sanitizeLogValue(inner, limit)
		}
		return sanitized
	case string:
		return sanitizeLogString(v, limit)
	default:
		return v
	}
}

func sanitizeLogString(value string, limit int) string {
	if len(value) <= limit && len(value) < binaryRedactionThreshold {
		return value
	}
	if strings.HasPrefix(value, "data:") {
		if idx := strings.Index(value, ","); idx > 0 {
			return fmt.Sprintf("%s,[truncated base64 len=%d]", value[:idx], len(value)-idx-1)
		}
	}
	if len(value) >= binaryRedactionThreshold && looksLikeBase64(value) {
		return fmt.Sprintf("[base64 len=%d]", len(value))
	}
	if len(value) > limit {
		return value[:limit] + logTruncationSuffix
	}
	return value
}

// looksLikeBase64 samples the string and reports whether it is plausibly
// base64 content rather than prose.
func looksLikeBase64(value string) bool {
	sample := value
	if len(sample) > binaryRedactionThreshold {
		sample = sample[:binaryRedactionThreshold]
	}
	for _, r := range sample {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func truncateForLog(body []byte, limit int) []byte {
	if limit <= len(logTruncationSuffix) {
		return body[:limit]
	}
	out := make([]byte, 0, limit)
	out = append(out, body[:limit-len(logTruncationSuffix)]...)
	return append(out, logTruncationSuffix...)
}
