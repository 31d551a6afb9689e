// Package image fetches and validates image content referenced from request
// content blocks. Providers that require inline image data (Anthropic,
// Gemini) get URLs resolved to base64 through here.
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	_ "golang.org/x/image/webp"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/common/network"
)

// dataURLSeparator splits a data URL into its media-type header and payload.
const dataURLSeparator = ","

// GetImageFromURL resolves an image reference to (mimeType, base64Data).
// Data URLs pass through without a network round trip; http(s) URLs are
// fetched through the user-content client after SSRF validation.
func GetImageFromURL(ctx context.Context, rawURL string) (mimeType string, data string, err error) {
	if strings.HasPrefix(rawURL, "data:") {
		return parseDataURL(rawURL)
	}

	if _, err = network.ValidateExternalURL(ctx, rawURL); err != nil {
		return "", "", errors.Wrap(err, "validate image url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", errors.Wrap(err, "build image request")
	}
	resp, err := client.UserContentRequestHTTPClient.Do(req)
	if err != nil {
		return "", "", errors.Wrap(err, "fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("fetch image: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxInlineImageBytes()+1))
	if err != nil {
		return "", "", errors.Wrap(err, "read image body")
	}
	if int64(len(body)) > MaxInlineImageBytes() {
		return "", "", errors.Errorf("image exceeds %d bytes", MaxInlineImageBytes())
	}

	mimeType = resp.Header.Get("Content-Type")
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		// Sniff when the server lied or stayed silent.
		if _, format, cfgErr := decodeConfig(body); cfgErr == nil {
			mimeType = "image/" + format
		} else {
			return "", "", errors.Errorf("unsupported content type: %s", mimeType)
		}
	}

	return mimeType, base64.StdEncoding.EncodeToString(body), nil
}

// GetImageSizeFromBase64 decodes the image header and returns its
// dimensions. webp is supported alongside the stdlib formats.
func GetImageSizeFromBase64(encoded string) (width int, height int, err error) {
	if idx := strings.Index(encoded, dataURLSeparator); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	if err = ValidateInlineImageBase64Size(encoded); err != nil {
		return 0, 0, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode base64 image")
	}
	cfg, _, err := decodeConfig(raw)
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode image config")
	}
	return cfg.Width, cfg.Height, nil
}

func parseDataURL(dataURL string) (mimeType string, data string, err error) {
	idx := strings.Index(dataURL, dataURLSeparator)
	if idx < 0 {
		return "", "", errors.New("malformed data url")
	}
	header := dataURL[len("data:"):idx]
	data = dataURL[idx+1:]
	if err = ValidateInlineImageBase64Size(data); err != nil {
		return "", "", err
	}
	mimeType = header
	if semi := strings.Index(header, ";"); semi >= 0 {
		mimeType = header[:semi]
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return mimeType, data, nil
}

func decodeConfig(raw []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return image.Config{}, "", errors.Wrap(err, "decode config")
	}
	return cfg, format, nil
}
