package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/meta"
	"github.com/modelrelay/modelrelay/relay/model"
)

// ImageHandler relays a buffered image generation response. Image billing is
// per image rather than per token, so usage carries the image count in
// CompletionTokens for the metering tail to price.
func ImageHandler(c *gin.Context, resp *http.Response) (*model.ErrorWithStatusCode, *model.Usage) {
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorWrapper(err, "read_response_body_failed", http.StatusInternalServerError), nil
	}
	if wireErr := extractWireError(responseBody); wireErr != nil {
		return &model.ErrorWithStatusCode{
			Error:      *wireErr,
			StatusCode: resp.StatusCode,
			RawError:   errors.New(wireErr.Message),
		}, nil
	}

	var imageResponse model.ImageResponse
	if err := json.Unmarshal(responseBody, &imageResponse); err != nil {
		return ErrorWrapper(err, "unmarshal_response_body_failed", http.StatusInternalServerError), nil
	}

	imageCount := len(imageResponse.Data)
	usage := &model.Usage{
		CompletionTokens: imageCount,
		TotalTokens:      imageCount,
	}

	m := meta.GetByContext(c)
	if m != nil && m.Price != nil {
		imageResponse.GatewayUsage = &model.GatewayUsage{
			CostUSD:       m.Price.ImageCost(imageCount),
			TokensCharged: imageCount,
			RequestMs:     time.Since(m.StartTime).Milliseconds(),
		}
	}
	c.JSON(resp.StatusCode, imageResponse)
	return nil, usage
}
