// Package render emits server-sent events in the wire shape clients of the
// chat-completions streaming API expect: one "data: <payload>" line per
// event, blank-line terminated, with a literal [DONE] sentinel at the end.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
)

// DoneSentinel is the terminal SSE payload.
const DoneSentinel = "[DONE]"

// StringData writes a single SSE event carrying the given payload and
// flushes it. A leading "data: " prefix or trailing CR on the payload is
// stripped so upstream lines can be re-emitted verbatim.
func StringData(c *gin.Context, str string) error {
	str = strings.TrimPrefix(str, "data: ")
	str = strings.TrimSuffix(str, "\r")
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", str); err != nil {
		return errors.Wrap(err, "write sse event")
	}
	c.Writer.Flush()
	return nil
}

// ObjectData marshals the object and writes it as a single SSE event.
func ObjectData(c *gin.Context, object any) error {
	if object == nil {
		return errors.New("object is nil")
	}
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrap(err, "marshal sse payload")
	}
	return StringData(c, string(jsonData))
}

// EventData writes a named SSE event (event: <name> + data: <payload>), the
// shape the Anthropic messages stream uses.
func EventData(c *gin.Context, event string, object any) error {
	jsonData, err := json.Marshal(object)
	if err != nil {
		return errors.Wrap(err, "marshal sse payload")
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return errors.Wrap(err, "write sse event")
	}
	c.Writer.Flush()
	return nil
}

// Done writes the terminal [DONE] sentinel.
func Done(c *gin.Context) {
	_ = StringData(c, DoneSentinel)
}
