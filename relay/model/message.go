package model

import "encoding/json"

// Message is one turn of a chat conversation in the gateway's hub format.
// Content is either a plain string or a list of typed content parts.
type Message struct {
	Role             string  `json:"role,omitempty"`
	Content          any     `json:"content,omitempty"`
	ReasoningContent string  `json:"reasoning_content,omitempty"`
	Name             *string `json:"name,omitempty"`
	ToolCalls        []Tool  `json:"tool_calls,omitempty"`
	ToolCallId       string  `json:"tool_call_id,omitempty"`
}

// ImageURL is the image content part payload. Url accepts both remote
// URLs and data: URLs with inline base64 payloads.
type ImageURL struct {
	Url    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// MessageContent is one typed part of a multi-part message content list.
type MessageContent struct {
	Type     string    `json:"type,omitempty"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// IsStringContent reports whether Content is a plain string.
func (m Message) IsStringContent() bool {
	_, ok := m.Content.(string)
	return ok
}

// StringContent flattens Content into plain text. Multi-part content
// concatenates the text parts and drops everything else.
func (m Message) StringContent() string {
	content, ok := m.Content.(string)
	if ok {
		return content
	}
	contentList, ok := m.Content.([]any)
	if !ok {
		return ""
	}
	var contentStr string
	for _, contentItem := range contentList {
		contentMap, ok := contentItem.(map[string]any)
		if !ok {
			continue
		}
		if contentMap["type"] == ContentTypeText {
			if subStr, ok := contentMap["text"].(string); ok {
				contentStr += subStr
			}
		}
	}
	return contentStr
}

// ParseContent normalizes Content into a list of typed parts. A plain
// string becomes a single text part. Unrecognized part types are dropped.
func (m Message) ParseContent() []MessageContent {
	var contentList []MessageContent
	content, ok := m.Content.(string)
	if ok {
		contentList = append(contentList, MessageContent{
			Type: ContentTypeText,
			Text: content,
		})
		return contentList
	}
	anyList, ok := m.Content.([]any)
	if !ok {
		return contentList
	}
	for _, contentItem := range anyList {
		contentMap, ok := contentItem.(map[string]any)
		if !ok {
			continue
		}
		switch contentMap["type"] {
		case ContentTypeText:
			if subStr, ok := contentMap["text"].(string); ok {
				contentList = append(contentList, MessageContent{
					Type: ContentTypeText,
					Text: subStr,
				})
			}
		case ContentTypeImageURL:
			if subObj, ok := contentMap["image_url"].(map[string]any); ok {
				imageURL := ImageURL{}
				if url, ok := subObj["url"].(string); ok {
					imageURL.Url = url
				}
				if detail, ok := subObj["detail"].(string); ok {
					imageURL.Detail = detail
				}
				contentList = append(contentList, MessageContent{
					Type:     ContentTypeImageURL,
					ImageURL: &imageURL,
				})
			}
		}
	}
	return contentList
}

// MarshalContentJSON re-encodes Content for storage. Used when persisting
// session history so replayed turns keep their original part structure.
func (m Message) MarshalContentJSON() (string, error) {
	b, err := json.Marshal(m.Content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
