package kiro

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/eventstream"
)

// Emitter receives one Anthropic stream event at a time, in order. The
// handler wraps an SSE writer; the non-streaming path wraps a collector.
type Emitter func(event string, data map[string]any) error

// blockState tracks one content block of the response being assembled.
type blockState struct {
	kind     string // "text" | "thinking" | "tool_use"
	toolID   string
	toolName string
	opened   bool
	closed   bool
	jsonBuf  strings.Builder
}

// Translator drives the south-to-north state machine: decoded event-stream
// messages in, Anthropic stream events out. One translator serves exactly
// one response and is not safe for concurrent use.
type Translator struct {
	messageID   string
	model       string
	inputTokens int
	emit        Emitter
	estimator   *TokenEstimator

	started  bool
	finished bool

	blocks    map[int]*blockState
	openIndex int
	nextIndex int

	// toolIndexByID maps upstream tool-use ids to block indexes for the
	// fragmented toolUseEvent form, which carries no index of its own.
	toolIndexByID map[string]int

	southStopReason string
	southUsageIn    *int
	southUsageOut   *int
	outputTokens    int
}

// NewTranslator builds a translator that reports the given message id and
// model on message_start.
func NewTranslator(messageID, model string, inputTokens int, emit Emitter) *Translator {
	return &Translator{
		messageID:     messageID,
		model:         model,
		inputTokens:   inputTokens,
		emit:          emit,
		estimator:     NewTokenEstimator(),
		blocks:        make(map[int]*blockState),
		openIndex:     -1,
		toolIndexByID: make(map[string]int),
	}
}

// Start emits message_start.
func (t *Translator) Start() error {
	if t.started {
		return nil
	}
	t.started = true

	return t.emit("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"content":       []any{},
			"model":         t.model,
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  t.inputTokens,
				"output_tokens": 0,
			},
		},
	})
}

// HandleMessage dispatches one decoded frame through the state machine.
func (t *Translator) HandleMessage(msg *eventstream.Message) error {
	if t.finished {
		return nil
	}

	switch msg.MessageType() {
	case "error", "exception":
		return t.handleException(msg)
	}

	switch msg.EventType() {
	case "messageStart":
		// Ids are minted locally; nothing to carry over.
		return nil
	case "contentBlockStart":
		return t.handleBlockStart(msg.Payload)
	case "contentBlockDelta":
		return t.handleBlockDelta(msg.Payload)
	case "contentBlockStop":
		return t.handleBlockStop(msg.Payload)
	case "messageDelta", "messageStop":
		return t.handleMessageDelta(msg.Payload)
	case "assistantResponseEvent":
		return t.handleAssistantResponse(msg.Payload)
	case "toolUseEvent":
		return t.handleToolUse(msg.Payload)
	default:
		log.Debugf("kiro: ignoring upstream event %q", msg.EventType())
		return nil
	}
}

func (t *Translator) handleException(msg *eventstream.Message) error {
	var payload exceptionPayload
	if err := unmarshalJSON(msg.Payload, &payload); err != nil {
		payload.Message = string(msg.Payload)
	}

	// A length-cap exception still terminates the message cleanly with
	// stop_reason max_tokens.
	if strings.Contains(payload.Type, "ContentLengthExceeded") ||
		strings.Contains(payload.Type, "CONTENT_LENGTH_EXCEEDS") {
		t.southStopReason = "max_tokens"
		return t.Finish()
	}

	return &domain.ProxyError{
		Err:     fmt.Errorf("upstream %s: %s (%s)", msg.MessageType(), payload.Message, payload.Type),
		Message: "upstream reported an error mid-stream",
	}
}

func (t *Translator) handleBlockStart(payload []byte) error {
	var evt contentBlockStartEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode contentBlockStart")
	}

	if evt.Start.ToolUse != nil {
		return t.openToolBlock(evt.ContentBlockIndex, evt.Start.ToolUse.ToolUseID, evt.Start.ToolUse.Name)
	}
	// Text and thinking starts carry no payload; the first delta decides
	// the block kind.
	return nil
}

func (t *Translator) handleBlockDelta(payload []byte) error {
	var evt contentBlockDeltaEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode contentBlockDelta")
	}

	idx := evt.ContentBlockIndex
	switch {
	case evt.Delta.ReasoningContent != nil:
		if err := t.ensureBlock(idx, "thinking", "", ""); err != nil {
			return err
		}
		text := evt.Delta.ReasoningContent.Text
		t.outputTokens += t.estimator.EstimateTextTokens(text)
		return t.emitDelta(idx, map[string]any{"type": "thinking_delta", "thinking": text})

	case evt.Delta.ToolUse != nil:
		block := t.blocks[idx]
		if block == nil || block.kind != "tool_use" {
			// A tool delta without a preceding start: synthesize one.
			if err := t.openToolBlock(idx, fmt.Sprintf("toolu_auto_%d", idx), "auto_detected"); err != nil {
				return err
			}
			block = t.blocks[idx]
		}
		fragment := evt.Delta.ToolUse.Input
		if fragment == "" {
			return nil
		}
		block.jsonBuf.WriteString(fragment)
		t.outputTokens += (len(fragment) + 3) / 4
		return t.emitDelta(idx, map[string]any{"type": "input_json_delta", "partial_json": fragment})

	default:
		if err := t.ensureBlock(idx, "text", "", ""); err != nil {
			return err
		}
		t.outputTokens += t.estimator.EstimateTextTokens(evt.Delta.Text)
		return t.emitDelta(idx, map[string]any{"type": "text_delta", "text": evt.Delta.Text})
	}
}

func (t *Translator) handleBlockStop(payload []byte) error {
	var evt contentBlockStopEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode contentBlockStop")
	}
	return t.closeBlock(evt.ContentBlockIndex)
}

func (t *Translator) handleMessageDelta(payload []byte) error {
	var evt messageDeltaEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode messageDelta")
	}
	if evt.StopReason != "" {
		t.southStopReason = evt.StopReason
	}
	if evt.Usage != nil {
		in, out := evt.Usage.InputTokens, evt.Usage.OutputTokens
		t.southUsageIn, t.southUsageOut = &in, &out
	}
	return nil
}

// handleAssistantResponse treats the legacy assistantResponseEvent form as a
// text delta on the open text block, or on a new text block at the next free
// index when no text block is open.
func (t *Translator) handleAssistantResponse(payload []byte) error {
	var evt assistantResponseEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode assistantResponseEvent")
	}
	if evt.Content == "" {
		return nil
	}

	idx := t.openIndex
	if idx < 0 || t.blocks[idx] == nil || t.blocks[idx].kind != "text" {
		idx = t.nextIndex
	}
	if err := t.ensureBlock(idx, "text", "", ""); err != nil {
		return err
	}
	t.outputTokens += t.estimator.EstimateTextTokens(evt.Content)
	return t.emitDelta(idx, map[string]any{"type": "text_delta", "text": evt.Content})
}

// handleToolUse handles the fragmented legacy tool form: the first frame
// names the tool, later frames carry raw JSON input fragments, and the Stop
// flag closes the block.
func (t *Translator) handleToolUse(payload []byte) error {
	var evt toolUseEvent
	if err := unmarshalJSON(payload, &evt); err != nil {
		return domain.NewTransientError(err, "decode toolUseEvent")
	}
	if evt.ToolUseID == "" {
		return nil
	}

	idx, known := t.toolIndexByID[evt.ToolUseID]
	if !known {
		idx = t.nextIndex
		if err := t.openToolBlock(idx, evt.ToolUseID, evt.Name); err != nil {
			return err
		}
	}

	if fragment := toolInputFragment(evt.Input); fragment != "" {
		block := t.blocks[idx]
		block.jsonBuf.WriteString(fragment)
		t.outputTokens += (len(fragment) + 3) / 4
		if err := t.emitDelta(idx, map[string]any{"type": "input_json_delta", "partial_json": fragment}); err != nil {
			return err
		}
	}

	if evt.Stop {
		return t.closeBlock(idx)
	}
	return nil
}

// toolInputFragment renders a tool input payload as a raw JSON fragment.
// Fragmented frames carry strings; some variants deliver a complete object.
func toolInputFragment(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		if b, err := marshalJSON(v); err == nil {
			return string(b)
		}
		return ""
	}
}

// ensureBlock opens the block at idx if needed. An index change closes the
// previously open block first: blocks never interleave on the north side.
func (t *Translator) ensureBlock(idx int, kind, toolID, toolName string) error {
	if block, ok := t.blocks[idx]; ok && block.opened && !block.closed {
		return nil
	}

	if t.openIndex >= 0 && t.openIndex != idx {
		if err := t.closeBlock(t.openIndex); err != nil {
			return err
		}
	}

	block := &blockState{kind: kind, toolID: toolID, toolName: toolName, opened: true}
	t.blocks[idx] = block
	t.openIndex = idx
	if idx >= t.nextIndex {
		t.nextIndex = idx + 1
	}

	contentBlock := map[string]any{"type": kind}
	switch kind {
	case "text":
		contentBlock["text"] = ""
	case "thinking":
		contentBlock["thinking"] = ""
	case "tool_use":
		contentBlock["id"] = toolID
		contentBlock["name"] = toolName
		contentBlock["input"] = map[string]any{}
	}

	return t.emit("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         idx,
		"content_block": contentBlock,
	})
}

func (t *Translator) openToolBlock(idx int, toolID, toolName string) error {
	if err := t.ensureBlock(idx, "tool_use", toolID, toolName); err != nil {
		return err
	}
	t.toolIndexByID[toolID] = idx
	t.outputTokens += 12 + t.estimator.EstimateTextTokens(toolName)
	return nil
}

func (t *Translator) closeBlock(idx int) error {
	block, ok := t.blocks[idx]
	if !ok || !block.opened || block.closed {
		return nil
	}
	block.closed = true
	if t.openIndex == idx {
		t.openIndex = -1
	}

	// Tool argument fragments must add up to one JSON document.
	if block.kind == "tool_use" {
		if raw := strings.TrimSpace(block.jsonBuf.String()); raw != "" {
			var probe map[string]any
			if err := unmarshalJSON([]byte(raw), &probe); err != nil {
				log.Warnf("kiro: tool %s produced non-JSON input: %v", block.toolID, err)
			}
		}
	}

	return t.emit("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	})
}

// Finish closes any open blocks and emits message_delta plus message_stop.
// Safe to call once; later calls are no-ops.
func (t *Translator) Finish() error {
	if t.finished {
		return nil
	}
	t.finished = true

	for idx, block := range t.blocks {
		if block.opened && !block.closed {
			if err := t.closeBlock(idx); err != nil {
				return err
			}
		}
	}

	inputTokens := t.inputTokens
	if t.southUsageIn != nil && *t.southUsageIn > 0 {
		inputTokens = *t.southUsageIn
	}
	outputTokens := t.outputTokens
	if t.southUsageOut != nil && *t.southUsageOut > 0 {
		outputTokens = *t.southUsageOut
	}
	if outputTokens < 1 && len(t.blocks) > 0 {
		outputTokens = 1
	}

	err := t.emit("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   t.stopReason(),
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	})
	if err != nil {
		return err
	}
	return t.emit("message_stop", map[string]any{"type": "message_stop"})
}

// stopReason maps the upstream stop reason onto the Anthropic vocabulary.
// Unknown values and absent reasons fall back to tool_use when the response
// invoked tools, end_turn otherwise.
func (t *Translator) stopReason() string {
	switch normalizeStopReason(t.southStopReason) {
	case "end_turn":
		return "end_turn"
	case "tool_use":
		return "tool_use"
	case "max_tokens":
		return "max_tokens"
	case "stop_sequence":
		return "stop_sequence"
	}

	for _, block := range t.blocks {
		if block.kind == "tool_use" {
			return "tool_use"
		}
	}
	return "end_turn"
}

func normalizeStopReason(reason string) string {
	return strings.ToLower(strings.TrimSpace(reason))
}

func (t *Translator) emitDelta(idx int, delta map[string]any) error {
	return t.emit("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": idx,
		"delta": delta,
	})
}
