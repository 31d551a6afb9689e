package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/relay/model"
)

func TestConvertClaudeParams(t *testing.T) {
	temperature := 0.5
	req := &model.ClaudeRequest{
		Model:       "anthropic.claude-sonnet-4-20250514-v1:0",
		MaxTokens:   1024,
		Temperature: &temperature,
		System:      "be brief",
		Messages: []model.ClaudeMessage{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: []any{
				map[string]any{"type": "text", "text": "hi"},
				map[string]any{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": map[string]any{"q": "x"}},
			}},
			{Role: model.RoleUser, Content: []any{
				map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": "found"},
			}},
		},
		Tools: []model.ClaudeTool{
			{Name: "lookup", Description: "search", InputSchema: map[string]any{"type": "object"}},
		},
	}

	params, err := convertClaudeParams(req)
	require.NoError(t, err)

	require.Equal(t, int32(1024), aws.ToInt32(params.Inference.MaxTokens))
	require.InDelta(t, 0.5, float64(aws.ToFloat32(params.Inference.Temperature)), 1e-6)

	require.Len(t, params.System, 1)
	sys, ok := params.System[0].(*types.SystemContentBlockMemberText)
	require.True(t, ok)
	require.Equal(t, "be brief", sys.Value)

	require.Len(t, params.Messages, 3)
	require.Equal(t, types.ConversationRoleUser, params.Messages[0].Role)
	require.Equal(t, types.ConversationRoleAssistant, params.Messages[1].Role)

	toolUse, ok := params.Messages[1].Content[1].(*types.ContentBlockMemberToolUse)
	require.True(t, ok)
	require.Equal(t, "toolu_1", aws.ToString(toolUse.Value.ToolUseId))
	require.Equal(t, "lookup", aws.ToString(toolUse.Value.Name))

	toolResult, ok := params.Messages[2].Content[0].(*types.ContentBlockMemberToolResult)
	require.True(t, ok)
	require.Equal(t, "toolu_1", aws.ToString(toolResult.Value.ToolUseId))

	require.NotNil(t, params.ToolConfig)
	require.Len(t, params.ToolConfig.Tools, 1)
}

func TestConverseToClaudeResponse(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "the answer"},
			},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(12),
			OutputTokens: aws.Int32(7),
		},
	}

	resp, err := converseToClaudeResponse(out)
	require.NoError(t, err)
	require.Equal(t, "message", resp.Type)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "the answer", resp.Content[0].Text)
	require.Equal(t, 12, resp.Usage.InputTokens)
	require.Equal(t, 7, resp.Usage.OutputTokens)

	usage := resp.Usage.ToUsage()
	require.Equal(t, 19, usage.TotalTokens)
}

func TestClaudeStopReason(t *testing.T) {
	require.Equal(t, "end_turn", claudeStopReason(types.StopReasonEndTurn))
	require.Equal(t, "max_tokens", claudeStopReason(types.StopReasonMaxTokens))
	require.Equal(t, "tool_use", claudeStopReason(types.StopReasonToolUse))
	require.Equal(t, "stop_sequence", claudeStopReason(types.StopReasonStopSequence))
}

func TestStreamEmitterToolCallChunks(t *testing.T) {
	e := &claudeStreamEmitter{messageId: "msg_1", modelName: "claude-sonnet-4"}

	chunks := e.toChatChunks(&model.ClaudeStreamEvent{
		Type: "content_block_start",
		ContentBlock: &model.ClaudeContent{
			Type: "tool_use", Id: "toolu_1", Name: "lookup",
		},
	})
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0].Choices, 1)
	calls := chunks[0].Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)
	require.Equal(t, "toolu_1", calls[0].Id)
	require.Equal(t, "lookup", calls[0].Function.Name)
	require.Equal(t, 0, *calls[0].Index)

	chunks = e.toChatChunks(&model.ClaudeStreamEvent{
		Type:  "content_block_delta",
		Delta: &model.ClaudeStreamDelta{Type: "input_json_delta", PartialJson: `{"q":`},
	})
	require.Len(t, chunks, 1)
	require.Equal(t, `{"q":`, chunks[0].Choices[0].Delta.ToolCalls[0].Function.Arguments)

	// A second tool call advances the correlation index.
	chunks = e.toChatChunks(&model.ClaudeStreamEvent{
		Type:         "content_block_start",
		ContentBlock: &model.ClaudeContent{Type: "tool_use", Id: "toolu_2", Name: "fetch"},
	})
	require.Equal(t, 1, *chunks[0].Choices[0].Delta.ToolCalls[0].Index)
}

func TestStreamEmitterTextChunks(t *testing.T) {
	e := &claudeStreamEmitter{messageId: "msg_1", modelName: "claude-sonnet-4"}

	chunks := e.toChatChunks(&model.ClaudeStreamEvent{
		Type:  "content_block_delta",
		Delta: &model.ClaudeStreamDelta{Type: "text_delta", Text: "hel"},
	})
	require.Len(t, chunks, 1)
	require.Equal(t, "hel", chunks[0].Choices[0].Delta.Content)
	require.Equal(t, "chat.completion.chunk", chunks[0].Object)
	require.Equal(t, "claude-sonnet-4", chunks[0].Model)
}
