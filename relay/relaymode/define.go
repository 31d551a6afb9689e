package relaymode

const (
	Unknown = iota
	ChatCompletions
	// ClaudeMessages is for Claude Messages API direct requests
	ClaudeMessages
	// ResponseAPI is for OpenAI Response API direct requests
	ResponseAPI
	ImagesGenerations
)

func String(mode int) string {
	switch mode {
	case ChatCompletions:
		return "chat"
	case ClaudeMessages:
		return "claude_messages"
	case ResponseAPI:
		return "response_api"
	case ImagesGenerations:
		return "image_generation"
	default:
		return "unknown"
	}
}
