package openai

import "github.com/modelrelay/modelrelay/relay/model"

// ResponseText2Usage rebuilds a usage block from response text when the
// upstream reported none.
func ResponseText2Usage(responseText string, modelName string, promptTokens int) *model.Usage {
	usage := &model.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: CountTokenText(responseText, modelName),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}
