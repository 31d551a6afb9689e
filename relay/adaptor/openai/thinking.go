package openai

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

// Reasoning-tuned open models served through OpenAI-dialect gateways often
// emit their chain of thought inline as a <think>...</think> prelude instead
// of a separate field. When the client opts in with ?thinking=true the
// gateway lifts that block out of the visible content and into
// reasoning_content, which the dialect renderers then map to each client's
// native reasoning shape. Some upstreams double-escape the tags, so the
// JSON-escaped forms are recognized too.
const (
	thinkOpenTag         = "<think>"
	thinkCloseTag        = "</think>"
	thinkOpenTagEscaped  = `<think>`
	thinkCloseTagEscaped = `</think>`
)

// ThinkingExtractor lifts the first <think> block out of assistant content.
// It is stateful so a block split across stream chunks reassembles; only the
// first block is extracted, later ones stay literal.
type ThinkingExtractor struct {
	inBlock bool
	done    bool
}

// thinkingEnabled reports whether the client asked for inline reasoning
// extraction on this request.
func thinkingEnabled(c *gin.Context) bool {
	if c == nil || c.Request == nil {
		return false
	}
	return c.Query("thinking") == "true"
}

// findTag locates the earliest occurrence of either spelling of a tag and
// returns its index and length, or (-1, 0).
func findTag(s, plain, escaped string) (int, int) {
	idx, width := strings.Index(s, plain), len(plain)
	if escIdx := strings.Index(s, escaped); escIdx >= 0 && (idx < 0 || escIdx < idx) {
		idx, width = escIdx, len(escaped)
	}
	return idx, width
}

// Extract splits one content fragment into visible text and reasoning text.
// The changed flag reports whether the fragment was touched at all, so
// callers can leave untouched chunks byte-identical.
func (e *ThinkingExtractor) Extract(content string) (cleaned string, reasoning string, changed bool) {
	if content == "" || e.done {
		return content, "", false
	}

	if e.inBlock {
		closeIdx, closeWidth := findTag(content, thinkCloseTag, thinkCloseTagEscaped)
		if closeIdx < 0 {
			return "", content, true
		}
		e.inBlock = false
		e.done = true
		return content[closeIdx+closeWidth:], content[:closeIdx], true
	}

	openIdx, openWidth := findTag(content, thinkOpenTag, thinkOpenTagEscaped)
	if openIdx < 0 {
		return content, "", false
	}

	head := content[:openIdx]
	rest := content[openIdx+openWidth:]
	closeIdx, closeWidth := findTag(rest, thinkCloseTag, thinkCloseTagEscaped)
	if closeIdx < 0 {
		e.inBlock = true
		return head, rest, true
	}
	e.done = true
	return head + rest[closeIdx+closeWidth:], rest[:closeIdx], true
}

// RewriteChunk applies extraction to every choice delta in a stream chunk.
func (e *ThinkingExtractor) RewriteChunk(chunk *ChatCompletionsStreamResponse) {
	for i := range chunk.Choices {
		content, ok := chunk.Choices[i].Delta.Content.(string)
		if !ok {
			continue
		}
		cleaned, reasoning, changed := e.Extract(content)
		if !changed {
			continue
		}
		chunk.Choices[i].Delta.Content = cleaned
		if reasoning != "" {
			chunk.Choices[i].Delta.ReasoningContent = reasoning
		}
	}
}

// extractThinkingFromResponse applies extraction to a buffered response.
// Each choice gets a fresh extractor since choices are independent samples.
func extractThinkingFromResponse(textResponse *TextResponse) bool {
	changedAny := false
	for i := range textResponse.Choices {
		content, ok := textResponse.Choices[i].Message.Content.(string)
		if !ok {
			continue
		}
		var e ThinkingExtractor
		cleaned, reasoning, changed := e.Extract(content)
		if !changed {
			continue
		}
		changedAny = true
		textResponse.Choices[i].Message.Content = cleaned
		if reasoning != "" && textResponse.Choices[i].Message.ReasoningContent == "" {
			textResponse.Choices[i].Message.ReasoningContent = reasoning
		}
	}
	return changedAny
}

// patchResponseChoices copies extracted content and reasoning back into the
// raw payload the chat passthrough path serves.
func patchResponseChoices(body []byte, textResponse *TextResponse) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	choices, ok := payload["choices"].([]any)
	if !ok {
		return body
	}
	for i := range choices {
		if i >= len(textResponse.Choices) {
			break
		}
		choiceMap, ok := choices[i].(map[string]any)
		if !ok {
			continue
		}
		messageMap, ok := choiceMap["message"].(map[string]any)
		if !ok {
			continue
		}
		messageMap["content"] = textResponse.Choices[i].Message.Content
		if reasoning := textResponse.Choices[i].Message.ReasoningContent; reasoning != "" {
			messageMap["reasoning_content"] = reasoning
		}
	}
	rewritten, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return rewritten
}
