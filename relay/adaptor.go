package relay

import (
	"github.com/modelrelay/modelrelay/relay/adaptor"
	"github.com/modelrelay/modelrelay/relay/adaptor/anthropic"
	"github.com/modelrelay/modelrelay/relay/adaptor/bedrock"
	"github.com/modelrelay/modelrelay/relay/adaptor/gemini"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai"
	"github.com/modelrelay/modelrelay/relay/adaptor/openai_compatible"
	"github.com/modelrelay/modelrelay/relay/apitype"
)

// GetAdaptor returns a fresh adaptor for the given wire protocol. Adaptors
// are per-attempt: callers Init them with the attempt's meta before use.
func GetAdaptor(apiType int) adaptor.Adaptor {
	switch apiType {
	case apitype.OpenAI:
		return &openai.Adaptor{}
	case apitype.Anthropic:
		return &anthropic.Adaptor{}
	case apitype.Gemini:
		return &gemini.Adaptor{}
	case apitype.AwsBedrock:
		return &bedrock.Adaptor{}
	case apitype.OpenAICompatible:
		return &openai_compatible.Adaptor{}
	}
	return nil
}
