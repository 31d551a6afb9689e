package model

// ImageRequest is the OpenAI image generation request surface.
type ImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt" binding:"required"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Style          string `json:"style,omitempty"`
	User           string `json:"user,omitempty"`

	// Gateway extension, never forwarded upstream.
	Provider string `json:"provider,omitempty"`
}

// ImageResponse is the OpenAI image generation response surface.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`

	// GatewayUsage reports metering results on buffered replies.
	GatewayUsage *GatewayUsage `json:"gateway_usage,omitempty"`
}

type ImageData struct {
	Url           string `json:"url,omitempty"`
	B64Json       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}
