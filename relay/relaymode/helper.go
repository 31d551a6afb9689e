package relaymode

import "strings"

// GetByPath resolves the relay mode from a request path. Query strings and
// trailing path segments are ignored so versioned sub-resources still match.
func GetByPath(path string) int {
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	switch {
	case strings.HasPrefix(path, "/v1/chat/completions"):
		return ChatCompletions
	case strings.HasPrefix(path, "/v1/messages"):
		return ClaudeMessages
	case strings.HasPrefix(path, "/v1/responses"):
		return ResponseAPI
	case strings.HasPrefix(path, "/v1/images/generations"):
		return ImagesGenerations
	default:
		return Unknown
	}
}
