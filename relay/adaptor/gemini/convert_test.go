package gemini

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/relay/model"
)

func newConvertContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	return c
}

func TestConvertRequest_SystemAndGeneration(t *testing.T) {
	c := newConvertContext(t)
	temperature := 0.4
	req := &model.GeneralOpenAIRequest{
		Model:       "gemini-2.5-flash",
		Temperature: &temperature,
		MaxTokens:   256,
		Stop:        []any{"END", "STOP"},
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Be terse."},
			{Role: model.RoleUser, Content: "hello"},
		},
	}

	out := ConvertRequest(c, req)
	require.NotNil(t, out.SystemInstruction)
	require.Equal(t, "Be terse.", out.SystemInstruction.Parts[0].Text)
	require.Len(t, out.Contents, 1)
	require.Equal(t, "user", out.Contents[0].Role)
	require.Equal(t, "hello", out.Contents[0].Parts[0].Text)
	require.Equal(t, 256, out.GenerationConfig.MaxOutputTokens)
	require.Equal(t, []string{"END", "STOP"}, out.GenerationConfig.StopSequences)
	require.Len(t, out.SafetySettings, len(harmCategories))
}

func TestConvertRequest_ToolRoundTrip(t *testing.T) {
	c := newConvertContext(t)
	req := &model.GeneralOpenAIRequest{
		Model: "gemini-2.5-pro",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "weather in Paris?"},
			{Role: model.RoleAssistant, ToolCalls: []model.Tool{{
				Id:   "call_1",
				Type: "function",
				Function: &model.Function{
					Name:      "get_weather",
					Arguments: `{"city":"Paris"}`,
				},
			}}},
			{Role: model.RoleTool, ToolCallId: "call_1", Content: "22C and sunny"},
		},
		Tools: []model.Tool{{
			Type: "function",
			Function: &model.Function{
				Name:        "get_weather",
				Description: "Look up current weather",
				Parameters: map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
				},
			},
		}},
		ToolChoice: "required",
	}

	out := ConvertRequest(c, req)
	require.Len(t, out.Contents, 3)

	assistant := out.Contents[1]
	require.Equal(t, "model", assistant.Role)
	require.NotNil(t, assistant.Parts[0].FunctionCall)
	require.Equal(t, "get_weather", assistant.Parts[0].FunctionCall.Name)
	require.Equal(t, "Paris", assistant.Parts[0].FunctionCall.Args["city"])

	toolResult := out.Contents[2]
	require.Equal(t, "user", toolResult.Role)
	require.NotNil(t, toolResult.Parts[0].FunctionResponse)
	require.Equal(t, "get_weather", toolResult.Parts[0].FunctionResponse.Name,
		"function name recovered from the assistant turn that issued the call")
	require.Equal(t, "22C and sunny", toolResult.Parts[0].FunctionResponse.Response["content"])

	require.Len(t, out.Tools, 1)
	decl := out.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "get_weather", decl.Name)
	params := decl.Parameters.(map[string]any)
	require.Equal(t, "OBJECT", params["type"])
	require.NotContains(t, params, "additionalProperties")

	require.NotNil(t, out.ToolConfig)
	require.Equal(t, "ANY", out.ToolConfig.FunctionCallingConfig.Mode)
}

func TestConvertRequest_ToolChoiceNamedFunction(t *testing.T) {
	c := newConvertContext(t)
	req := &model.GeneralOpenAIRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
		Tools: []model.Tool{{
			Type:     "function",
			Function: &model.Function{Name: "lookup"},
		}},
		ToolChoice: map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "lookup"},
		},
	}

	out := ConvertRequest(c, req)
	require.NotNil(t, out.ToolConfig)
	require.Equal(t, "ANY", out.ToolConfig.FunctionCallingConfig.Mode)
	require.Equal(t, []string{"lookup"}, out.ToolConfig.FunctionCallingConfig.AllowedFunctionNames)
}

func TestConvertRequest_JSONSchemaResponseFormat(t *testing.T) {
	c := newConvertContext(t)
	req := &model.GeneralOpenAIRequest{
		Model:    "gemini-2.5-flash",
		Messages: []model.Message{{Role: model.RoleUser, Content: "extract"}},
		ResponseFormat: &model.ResponseFormat{
			Type: "json_schema",
			JsonSchema: &model.JSONSchema{
				Name: "extraction",
				Schema: map[string]any{
					"type":    "object",
					"$schema": "https://json-schema.org/draft/2020-12/schema",
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
					},
				},
			},
		},
	}

	out := ConvertRequest(c, req)
	require.Equal(t, "application/json", out.GenerationConfig.ResponseMimeType)
	schema := out.GenerationConfig.ResponseSchema.(map[string]any)
	require.Equal(t, "OBJECT", schema["type"])
	require.NotContains(t, schema, "$schema")
}

func TestConvertRequest_InlineDataImage(t *testing.T) {
	c := newConvertContext(t)
	req := &model.GeneralOpenAIRequest{
		Model: "gemini-2.5-pro",
		Messages: []model.Message{{
			Role: model.RoleUser,
			Content: []any{
				map[string]any{"type": "text", "text": "what is this?"},
				map[string]any{"type": "image_url", "image_url": map[string]any{
					"url": "data:image/png;base64,iVBORw0KGgo=",
				}},
			},
		}},
	}

	out := ConvertRequest(c, req)
	require.Len(t, out.Contents, 1)
	parts := out.Contents[0].Parts
	require.Len(t, parts, 2)
	require.Equal(t, "what is this?", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	require.Equal(t, "image/png", parts[1].InlineData.MimeType)
	require.Equal(t, "iVBORw0KGgo=", parts[1].InlineData.Data)
}
