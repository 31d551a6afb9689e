// Package validator checks relay requests before they can have billing
// consequences. Validation failures map to 400s and never enter the
// failover loop.
package validator

import (
	"math"

	"github.com/Laisky/errors/v2"
	"github.com/go-playground/validator/v10"

	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

var validate = validator.New()

// ValidateTextRequest rejects chat requests no provider could serve.
func ValidateTextRequest(request *relaymodel.GeneralOpenAIRequest) error {
	if request == nil {
		return errors.New("request is nil")
	}
	if err := validate.Var(request.Model, "required"); err != nil {
		return errors.New("model is required")
	}
	if err := validate.Var(request.Messages, "required,min=1"); err != nil {
		return errors.New("messages must contain at least one entry")
	}
	for i := range request.Messages {
		if err := validate.Var(request.Messages[i].Role, "required"); err != nil {
			return errors.Errorf("messages[%d] is missing a role", i)
		}
	}
	if request.MaxTokens < 0 || request.MaxTokens > math.MaxInt32 {
		return errors.New("max_tokens is out of range")
	}
	if request.Temperature != nil {
		if err := validate.Var(*request.Temperature, "gte=0,lte=2"); err != nil {
			return errors.New("temperature must be between 0 and 2")
		}
	}
	if request.TopP != nil {
		if err := validate.Var(*request.TopP, "gte=0,lte=1"); err != nil {
			return errors.New("top_p must be between 0 and 1")
		}
	}
	for i := range request.Tools {
		if err := request.Tools[i].Validate(); err != nil {
			return errors.Wrapf(err, "tools[%d]", i)
		}
	}
	return nil
}

// ValidateClaudeRequest rejects Claude Messages requests no provider could
// serve. A missing max_tokens is not an error here: the adaptor substitutes
// the configured default and flags the response.
func ValidateClaudeRequest(request *relaymodel.ClaudeRequest) error {
	if request == nil {
		return errors.New("request is nil")
	}
	if err := validate.Var(request.Model, "required"); err != nil {
		return errors.New("model is required")
	}
	if err := validate.Var(request.Messages, "required,min=1"); err != nil {
		return errors.New("messages must contain at least one entry")
	}
	if request.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// ValidateImageRequest rejects image generation requests with parameters
// outside what any family accepts.
func ValidateImageRequest(request *relaymodel.ImageRequest) error {
	if request == nil {
		return errors.New("request is nil")
	}
	if err := validate.Var(request.Prompt, "required"); err != nil {
		return errors.New("prompt is required")
	}
	if request.N != 0 {
		if err := validate.Var(request.N, "gte=1,lte=10"); err != nil {
			return errors.New("n must be between 1 and 10")
		}
	}
	return nil
}
