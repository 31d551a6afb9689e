package openai

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/modelrelay/modelrelay/common/image"
	"github.com/modelrelay/modelrelay/common/logger"
	"github.com/modelrelay/modelrelay/relay/model"
)

// Token counting mirrors the upstream tokenizer closely enough for admission
// estimates and for usage reconstruction when a provider omits its usage
// block. Encoders are cached per model; unknown models share a default.

var (
	tokenEncoderMap   = map[string]*tiktoken.Tiktoken{}
	tokenEncoderMutex sync.Mutex

	defaultTokenEncoder     *tiktoken.Tiktoken
	defaultTokenEncoderOnce sync.Once
)

// Image prompts bill by tile on vision models. Remote images are not fetched
// during estimation; they count as a full-size high-detail image.
const (
	imageBaseTokens    = 85
	imageTileTokens    = 170
	imageTileEdge      = 512
	imageDefaultTokens = imageBaseTokens + 4*imageTileTokens
)

// getImageSizeFn is swapped out in tests.
var getImageSizeFn = image.GetImageSizeFromBase64

func getDefaultTokenEncoder() *tiktoken.Tiktoken {
	defaultTokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Logger.Error("failed to load default token encoder", zap.Error(err))
			return
		}
		defaultTokenEncoder = enc
	})
	return defaultTokenEncoder
}

func getTokenEncoder(modelName string) *tiktoken.Tiktoken {
	tokenEncoderMutex.Lock()
	defer tokenEncoderMutex.Unlock()

	if enc, ok := tokenEncoderMap[modelName]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc = getDefaultTokenEncoder()
	}
	tokenEncoderMap[modelName] = enc
	return enc
}

func getTokenNum(tokenEncoder *tiktoken.Tiktoken, text string) int {
	if tokenEncoder == nil {
		// bytes/4 keeps estimates sane when no encoding data is available
		return len(text) / 4
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// CountTokenText counts tokens in plain text for the given model.
func CountTokenText(text string, modelName string) int {
	return getTokenNum(getTokenEncoder(modelName), text)
}

// CountTokenMessages estimates prompt tokens for a chat message list using
// the per-message framing overhead of the gpt-3.5/gpt-4 chat format.
func CountTokenMessages(ctx context.Context, messages []model.Message, modelName string) int {
	tokenEncoder := getTokenEncoder(modelName)

	const (
		tokensPerMessage = 3
		tokensPerName    = 1
	)

	tokenNum := 0
	for _, message := range messages {
		tokenNum += tokensPerMessage
		tokenNum += getTokenNum(tokenEncoder, message.Role)
		tokenNum += countMessageContentTokens(tokenEncoder, message.Content)
		if message.Name != nil {
			tokenNum += tokensPerName
			tokenNum += getTokenNum(tokenEncoder, *message.Name)
		}
	}
	tokenNum += 3 // reply primed with <|start|>assistant<|message|>
	return tokenNum
}

func countMessageContentTokens(tokenEncoder *tiktoken.Tiktoken, content any) int {
	switch typed := content.(type) {
	case string:
		return getTokenNum(tokenEncoder, typed)
	case []any:
		tokenNum := 0
		for _, rawPart := range typed {
			part, ok := rawPart.(map[string]any)
			if !ok {
				continue
			}
			switch part["type"] {
			case model.ContentTypeText:
				if text, ok := part["text"].(string); ok {
					tokenNum += getTokenNum(tokenEncoder, text)
				}
			case model.ContentTypeImageURL:
				url, detail := imagePartFields(part["image_url"])
				tokenNum += countImageTokens(url, detail)
			}
		}
		return tokenNum
	case []model.MessageContent:
		tokenNum := 0
		for _, part := range typed {
			switch part.Type {
			case model.ContentTypeText:
				tokenNum += getTokenNum(tokenEncoder, part.Text)
			case model.ContentTypeImageURL:
				if part.ImageURL != nil {
					tokenNum += countImageTokens(part.ImageURL.Url, part.ImageURL.Detail)
				}
			}
		}
		return tokenNum
	}
	return 0
}

func imagePartFields(raw any) (url string, detail string) {
	m, ok := raw.(map[string]any)
	if !ok {
		return "", ""
	}
	url, _ = m["url"].(string)
	detail, _ = m["detail"].(string)
	return url, detail
}

// countImageTokens prices one image part. Low-detail images cost a flat
// base; high and auto detail cost base plus tiles. Only inline data URLs are
// decoded for dimensions.
func countImageTokens(url string, detail string) int {
	if detail == "low" {
		return imageBaseTokens
	}
	if !strings.HasPrefix(url, "data:") {
		return imageDefaultTokens
	}
	idx := strings.Index(url, ",")
	if idx < 0 {
		return imageDefaultTokens
	}
	width, height, err := getImageSizeFn(url[idx+1:])
	if err != nil || width <= 0 || height <= 0 {
		return imageDefaultTokens
	}

	// Scale to fit 2048x2048, then shortest side to 768, then tile at 512.
	if width > 2048 || height > 2048 {
		ratio := float64(2048) / float64(max(width, height))
		width = int(float64(width) * ratio)
		height = int(float64(height) * ratio)
	}
	if min(width, height) > 768 {
		ratio := float64(768) / float64(min(width, height))
		width = int(float64(width) * ratio)
		height = int(float64(height) * ratio)
	}
	tiles := ((width + imageTileEdge - 1) / imageTileEdge) * ((height + imageTileEdge - 1) / imageTileEdge)
	return imageBaseTokens + tiles*imageTileTokens
}

// CountTokenClaudeMessages estimates prompt tokens for a Claude Messages
// request, covering system prompt, content blocks, and tool schemas.
func CountTokenClaudeMessages(ctx context.Context, request *model.ClaudeRequest) int {
	tokenEncoder := getTokenEncoder(request.Model)

	tokenNum := getTokenNum(tokenEncoder, request.SystemPrompt())
	for _, message := range request.Messages {
		tokenNum += 3
		tokenNum += getTokenNum(tokenEncoder, message.Role)
		for _, block := range message.ContentBlocks() {
			switch block.Type {
			case "text":
				tokenNum += getTokenNum(tokenEncoder, block.Text)
			case "image":
				tokenNum += imageDefaultTokens
			case "tool_use", "tool_result":
				tokenNum += countAnyTokens(tokenEncoder, block.Input)
				tokenNum += countAnyTokens(tokenEncoder, block.Content)
			case "thinking":
				tokenNum += getTokenNum(tokenEncoder, block.Thinking)
			}
		}
	}
	for _, tool := range request.Tools {
		tokenNum += getTokenNum(tokenEncoder, tool.Name)
		tokenNum += getTokenNum(tokenEncoder, tool.Description)
		tokenNum += countAnyTokens(tokenEncoder, tool.InputSchema)
	}
	return tokenNum + 3
}

func countAnyTokens(tokenEncoder *tiktoken.Tiktoken, value any) int {
	switch typed := value.(type) {
	case nil:
		return 0
	case string:
		return getTokenNum(tokenEncoder, typed)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return getTokenNum(tokenEncoder, string(raw))
}
