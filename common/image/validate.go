package image

import (
	"encoding/base64"

	"github.com/Laisky/errors/v2"

	"github.com/modelrelay/modelrelay/common/config"
)

// MaxInlineImageBytes returns the configured max inline image size in bytes.
func MaxInlineImageBytes() int64 {
	return int64(config.MaxInlineImageSizeMB) * 1024 * 1024
}

// ValidateInlineImageBase64Size rejects base64 payloads exceeding the
// configured limit before any decode work happens.
func ValidateInlineImageBase64Size(base64Data string) error {
	if int64(base64.StdEncoding.DecodedLen(len(base64Data))) > MaxInlineImageBytes() {
		return errors.Errorf("image size should not exceed %dMB", config.MaxInlineImageSizeMB)
	}
	return nil
}
