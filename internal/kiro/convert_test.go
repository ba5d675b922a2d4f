package kiro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awsl-project/kirod/internal/anthropic"
	"github.com/awsl-project/kirod/internal/domain"
)

func simpleRequest() *anthropic.Request {
	return &anthropic.Request{
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 64,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Hello"},
		},
	}
}

func buildParsed(t *testing.T, req *anthropic.Request) *ConverseRequest {
	t.Helper()
	body, _, err := BuildRequest(req, nil)
	require.NoError(t, err)

	var cw ConverseRequest
	require.NoError(t, unmarshalJSON(body, &cw))
	return &cw
}

func TestValidateRequestBoundaries(t *testing.T) {
	req := simpleRequest()
	req.Messages = nil
	assert.ErrorIs(t, ValidateRequest(req), domain.ErrInvalidInput)

	req = simpleRequest()
	req.MaxTokens = 0
	assert.ErrorIs(t, ValidateRequest(req), domain.ErrInvalidInput)

	req = simpleRequest()
	req.Thinking = &anthropic.Thinking{Type: "enabled", BudgetTokens: 128}
	assert.ErrorIs(t, ValidateRequest(req), domain.ErrInvalidInput)

	assert.NoError(t, ValidateRequest(simpleRequest()))
}

func TestBuildRequestSimpleText(t *testing.T) {
	cw := buildParsed(t, simpleRequest())

	msg := cw.ConversationState.CurrentMessage.UserInputMessage
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, ModelSonnet, msg.ModelID)
	assert.Equal(t, "AI_EDITOR", msg.Origin)
	assert.NotEmpty(t, cw.ConversationState.ConversationID)
	assert.NotEmpty(t, cw.ConversationState.AgentContinuationID)
	assert.Equal(t, "MANUAL", cw.ConversationState.ChatTriggerType)
	assert.Nil(t, cw.ConversationState.History)
}

func TestBuildRequestMintsFreshIDs(t *testing.T) {
	a := buildParsed(t, simpleRequest())
	b := buildParsed(t, simpleRequest())
	assert.NotEqual(t, a.ConversationState.ConversationID, b.ConversationState.ConversationID)
}

func TestBuildRequestFiltersWebSearchTools(t *testing.T) {
	req := simpleRequest()
	req.Tools = []anthropic.Tool{
		{Name: "web_search", InputSchema: map[string]any{"type": "object"}},
		{Name: "WebSearch", InputSchema: map[string]any{"type": "object"}},
		{Name: "get_weather", InputSchema: map[string]any{"type": "object"}},
	}

	cw := buildParsed(t, req)
	tools := cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].ToolSpecification.Name)
}

func TestBuildRequestAllToolsFiltered(t *testing.T) {
	req := simpleRequest()
	req.Tools = []anthropic.Tool{{Name: "websearch"}}

	cw := buildParsed(t, req)
	assert.Empty(t, cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools)
}

func TestBuildRequestSystemPromptConcatenated(t *testing.T) {
	req := simpleRequest()
	req.System = []any{
		map[string]any{"type": "text", "text": "You are terse."},
		map[string]any{"type": "text", "text": "Answer in French."},
	}

	cw := buildParsed(t, req)
	require.NotEmpty(t, cw.ConversationState.History)

	raw, err := marshalJSON(cw.ConversationState.History[0])
	require.NoError(t, err)
	var user HistoryUserMessage
	require.NoError(t, unmarshalJSON(raw, &user))
	assert.Equal(t, "You are terse.\nAnswer in French.", user.UserInputMessage.Content)
}

func TestBuildRequestHistoryPairsTurns(t *testing.T) {
	req := simpleRequest()
	req.Messages = []anthropic.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "second"},
	}

	cw := buildParsed(t, req)
	// One user/assistant pair goes to history; "second" is the current turn.
	assert.Len(t, cw.ConversationState.History, 2)
	assert.Equal(t, "second", cw.ConversationState.CurrentMessage.UserInputMessage.Content)
}

func TestBuildRequestToolResultTurn(t *testing.T) {
	req := simpleRequest()
	req.Messages = []anthropic.Message{
		{Role: "user", Content: "what's the weather"},
		{Role: "assistant", Content: []any{
			map[string]any{"type": "tool_use", "id": "tooluse_1", "name": "get_weather", "input": map[string]any{"city": "Paris"}},
		}},
		{Role: "user", Content: []any{
			map[string]any{"type": "tool_result", "tool_use_id": "tooluse_1", "content": "sunny"},
		}},
	}

	cw := buildParsed(t, req)
	msg := cw.ConversationState.CurrentMessage.UserInputMessage
	require.Len(t, msg.UserInputMessageContext.ToolResults, 1)
	tr := msg.UserInputMessageContext.ToolResults[0]
	assert.Equal(t, "tooluse_1", tr.ToolUseID)
	assert.Equal(t, "success", tr.Status)
	assert.Equal(t, []map[string]any{{"text": "sunny"}}, tr.Content)
	// Tool feedback turns carry no inline text.
	assert.Empty(t, msg.Content)
}

func TestBuildRequestThinkingForcesTemperature(t *testing.T) {
	req := simpleRequest()
	req.MaxTokens = 2048
	temp := 0.3
	req.Temperature = &temp
	req.Thinking = &anthropic.Thinking{Type: "enabled", BudgetTokens: 1024}

	cw := buildParsed(t, req)
	require.NotNil(t, cw.InferenceConfig)
	require.NotNil(t, cw.InferenceConfig.Temperature)
	assert.Equal(t, 1.0, *cw.InferenceConfig.Temperature)
	assert.Equal(t, 1024, cw.ConversationState.CurrentMessage.UserInputMessage.ReasoningBudget)
}

func TestBuildRequestImageContent(t *testing.T) {
	req := simpleRequest()
	req.Messages = []anthropic.Message{
		{Role: "user", Content: []any{
			map[string]any{"type": "text", "text": "what is this"},
			map[string]any{"type": "image", "source": map[string]any{
				"type": "base64", "media_type": "image/jpeg", "data": "aGVsbG8=",
			}},
		}},
	}

	cw := buildParsed(t, req)
	msg := cw.ConversationState.CurrentMessage.UserInputMessage
	require.Len(t, msg.Images, 1)
	assert.Equal(t, "jpeg", msg.Images[0].Format)
	assert.Equal(t, "aGVsbG8=", msg.Images[0].Source.Bytes)
	assert.Equal(t, "what is this", msg.Content)
}

func TestBuildRequestToolDescriptionCapped(t *testing.T) {
	long := make([]byte, MaxToolDescriptionLength+500)
	for i := range long {
		long[i] = 'a'
	}

	req := simpleRequest()
	req.Tools = []anthropic.Tool{{Name: "t", Description: string(long), InputSchema: map[string]any{}}}

	cw := buildParsed(t, req)
	tools := cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools
	require.Len(t, tools, 1)
	assert.Len(t, tools[0].ToolSpecification.Description, MaxToolDescriptionLength)
}
