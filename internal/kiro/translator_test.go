package kiro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awsl-project/kirod/internal/eventstream"
)

type capturedEvent struct {
	name string
	data map[string]any
}

type captureEmitter struct {
	events []capturedEvent
}

func (c *captureEmitter) emit(event string, data map[string]any) error {
	c.events = append(c.events, capturedEvent{name: event, data: data})
	return nil
}

func (c *captureEmitter) names() []string {
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.name
	}
	return names
}

func southEvent(t *testing.T, eventType, payload string) *eventstream.Message {
	t.Helper()
	return &eventstream.Message{
		Headers: eventstream.Headers{
			":message-type": {Type: eventstream.ValueTypeString, Value: "event"},
			":event-type":   {Type: eventstream.ValueTypeString, Value: eventType},
			":content-type": {Type: eventstream.ValueTypeString, Value: "application/json"},
		},
		Payload: []byte(payload),
	}
}

func TestTranslatorSimpleTextSequence(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg_test", "claude-sonnet-4-20250514", 10, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"Hi."}}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "messageDelta", `{"stopReason":"end_turn","usage":{"inputTokens":10,"outputTokens":2}}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "messageStop", `{}`)))
	require.NoError(t, tr.Finish())

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, cap.names())

	start := cap.events[1].data
	cb := start["content_block"].(map[string]any)
	assert.Equal(t, "text", cb["type"])
	assert.Equal(t, 0, start["index"])

	delta := cap.events[2].data["delta"].(map[string]any)
	assert.Equal(t, "text_delta", delta["type"])
	assert.Equal(t, "Hi.", delta["text"])

	msgDelta := cap.events[4].data
	assert.Equal(t, "end_turn", msgDelta["delta"].(map[string]any)["stop_reason"])
	usage := msgDelta["usage"].(map[string]any)
	assert.Equal(t, 10, usage["input_tokens"])
	assert.Equal(t, 2, usage["output_tokens"])
}

func TestTranslatorToolUseSplitJSON(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg_test", "claude-sonnet-4-20250514", 5, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "toolUseEvent",
		`{"toolUseId":"tooluse_1","name":"get_weather","input":"{\"ci"}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "toolUseEvent",
		`{"toolUseId":"tooluse_1","name":"get_weather","input":"ty\":\"Paris\"}","stop":true}`)))
	require.NoError(t, tr.Finish())

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, cap.names())

	cb := cap.events[1].data["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", cb["type"])
	assert.Equal(t, "tooluse_1", cb["id"])
	assert.Equal(t, "get_weather", cb["name"])

	frag1 := cap.events[2].data["delta"].(map[string]any)
	frag2 := cap.events[3].data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", frag1["type"])
	assert.Equal(t, `{"ci`, frag1["partial_json"])
	assert.Equal(t, `ty":"Paris"}`, frag2["partial_json"])

	// No explicit stop reason upstream: a tool invocation implies tool_use.
	msgDelta := cap.events[5].data["delta"].(map[string]any)
	assert.Equal(t, "tool_use", msgDelta["stop_reason"])
}

func TestTranslatorIndexChangeClosesPriorBlock(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg_test", "m", 1, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"intro"}}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockStart", `{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"tu1","name":"t"}}}`)))
	require.NoError(t, tr.Finish())

	names := cap.names()
	// The text block at index 0 closes before the tool block at 1 opens.
	assert.Equal(t, []string{
		"message_start",
		"content_block_start", // text 0
		"content_block_delta",
		"content_block_stop",  // text 0 closed
		"content_block_start", // tool 1
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)
}

func TestTranslatorThinkingBlock(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg_test", "m", 1, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta",
		`{"contentBlockIndex":0,"delta":{"reasoningContent":{"text":"pondering"}}}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta",
		`{"contentBlockIndex":1,"delta":{"text":"answer"}}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "messageDelta", `{"stopReason":"end_turn"}`)))
	require.NoError(t, tr.Finish())

	cb := cap.events[1].data["content_block"].(map[string]any)
	assert.Equal(t, "thinking", cb["type"])
	delta := cap.events[2].data["delta"].(map[string]any)
	assert.Equal(t, "thinking_delta", delta["type"])
	assert.Equal(t, "pondering", delta["thinking"])
}

func TestTranslatorLegacyAssistantResponse(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg_test", "m", 1, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "assistantResponseEvent", `{"content":"Hello"}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "assistantResponseEvent", `{"content":" world"}`)))
	require.NoError(t, tr.Finish())

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, cap.names())
}

func TestTranslatorStopReasonMapping(t *testing.T) {
	for south, want := range map[string]string{
		"end_turn":      "end_turn",
		"tool_use":      "tool_use",
		"max_tokens":    "max_tokens",
		"stop_sequence": "stop_sequence",
		"SOMETHING_ELSE": "end_turn",
		"":              "end_turn",
	} {
		cap := &captureEmitter{}
		tr := NewTranslator("msg", "m", 1, cap.emit)
		require.NoError(t, tr.Start())
		if south != "" {
			require.NoError(t, tr.HandleMessage(southEvent(t, "messageDelta", `{"stopReason":"`+south+`"}`)))
		}
		require.NoError(t, tr.Finish())

		last := cap.events[len(cap.events)-2].data
		assert.Equal(t, want, last["delta"].(map[string]any)["stop_reason"], "south stop reason %q", south)
	}
}

// Feeding the translator through the collector must reproduce the original
// assistant text verbatim.
func TestCollectorRoundTripVerbatim(t *testing.T) {
	collector := NewCollector()
	tr := NewTranslator("msg_round", "claude-sonnet-4-20250514", 3, collector.Emit)

	require.NoError(t, tr.Start())
	for _, chunk := range []string{"The quick ", "brown fox ", "jumps over ", "the lazy dog."} {
		payload, err := marshalJSON(map[string]any{
			"contentBlockIndex": 0,
			"delta":             map[string]any{"text": chunk},
		})
		require.NoError(t, err)
		require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta", string(payload))))
	}
	require.NoError(t, tr.HandleMessage(southEvent(t, "messageDelta", `{"stopReason":"end_turn","usage":{"inputTokens":3,"outputTokens":12}}`)))
	require.NoError(t, tr.Finish())

	resp := collector.Response()
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog.", resp.Content[0].Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "msg_round", resp.ID)
	assert.Equal(t, 3, resp.Usage.InputTokens)
	assert.Equal(t, 12, resp.Usage.OutputTokens)
}

func TestCollectorToolInput(t *testing.T) {
	collector := NewCollector()
	tr := NewTranslator("msg", "m", 1, collector.Emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "toolUseEvent",
		`{"toolUseId":"tooluse_1","name":"get_weather","input":"{\"ci"}`)))
	require.NoError(t, tr.HandleMessage(southEvent(t, "toolUseEvent",
		`{"toolUseId":"tooluse_1","name":"get_weather","input":"ty\":\"Paris\"}","stop":true}`)))
	require.NoError(t, tr.Finish())

	resp := collector.Response()
	require.Len(t, resp.Content, 1)
	block := resp.Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "tooluse_1", block.ID)
	assert.Equal(t, "get_weather", block.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, block.Input)
	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestTranslatorContentLengthExceededFinishesWithMaxTokens(t *testing.T) {
	cap := &captureEmitter{}
	tr := NewTranslator("msg", "m", 1, cap.emit)

	require.NoError(t, tr.Start())
	require.NoError(t, tr.HandleMessage(southEvent(t, "contentBlockDelta", `{"contentBlockIndex":0,"delta":{"text":"partial"}}`)))

	msg := southEvent(t, "", `{"__type":"ContentLengthExceededException","message":"too long"}`)
	msg.Headers[":message-type"] = eventstream.HeaderValue{Type: eventstream.ValueTypeString, Value: "exception"}
	require.NoError(t, tr.HandleMessage(msg))

	names := cap.names()
	assert.Equal(t, "message_stop", names[len(names)-1])
	msgDelta := cap.events[len(cap.events)-2].data
	assert.Equal(t, "max_tokens", msgDelta["delta"].(map[string]any)["stop_reason"])
}
