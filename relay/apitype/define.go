package apitype

// API types identify the upstream wire protocol an adaptor speaks.
const (
	OpenAI = iota
	Anthropic
	Gemini
	AwsBedrock
	// OpenAICompatible covers third-party endpoints that implement the
	// OpenAI chat completion surface with provider-specific base URLs.
	OpenAICompatible

	Dummy // this one is only for count, do not add any channel after this
)

func String(apiType int) string {
	switch apiType {
	case OpenAI:
		return "openai"
	case Anthropic:
		return "anthropic"
	case Gemini:
		return "gemini"
	case AwsBedrock:
		return "aws_bedrock"
	case OpenAICompatible:
		return "openai_compatible"
	default:
		return "unknown"
	}
}
