package kiro

import (
	"sort"
	"strings"

	"github.com/awsl-project/kirod/internal/anthropic"
)

// Collector buffers translator output into a single non-streaming Messages
// response. It implements the same Emitter contract the SSE writer does, so
// both modes share one pipeline.
type Collector struct {
	messageID string
	model     string

	blocks  map[int]*collectedBlock
	indexes []int

	stopReason   string
	inputTokens  int
	outputTokens int
}

type collectedBlock struct {
	kind     string
	text     strings.Builder
	thinking strings.Builder
	toolID   string
	toolName string
	toolJSON strings.Builder
}

// NewCollector builds an empty collector.
func NewCollector() *Collector {
	return &Collector{blocks: make(map[int]*collectedBlock)}
}

// Emit consumes one stream event.
func (c *Collector) Emit(event string, data map[string]any) error {
	switch event {
	case "message_start":
		if msg, ok := data["message"].(map[string]any); ok {
			c.messageID, _ = msg["id"].(string)
			c.model, _ = msg["model"].(string)
		}

	case "content_block_start":
		idx := intField(data, "index")
		cb, _ := data["content_block"].(map[string]any)
		kind, _ := cb["type"].(string)

		block := &collectedBlock{kind: kind}
		if kind == "tool_use" {
			block.toolID, _ = cb["id"].(string)
			block.toolName, _ = cb["name"].(string)
		}
		if _, seen := c.blocks[idx]; !seen {
			c.indexes = append(c.indexes, idx)
		}
		c.blocks[idx] = block

	case "content_block_delta":
		idx := intField(data, "index")
		block := c.blocks[idx]
		if block == nil {
			return nil
		}
		delta, _ := data["delta"].(map[string]any)
		switch delta["type"] {
		case "text_delta":
			if s, ok := delta["text"].(string); ok {
				block.text.WriteString(s)
			}
		case "thinking_delta":
			if s, ok := delta["thinking"].(string); ok {
				block.thinking.WriteString(s)
			}
		case "input_json_delta":
			if s, ok := delta["partial_json"].(string); ok {
				block.toolJSON.WriteString(s)
			}
		}

	case "message_delta":
		if delta, ok := data["delta"].(map[string]any); ok {
			if s, ok := delta["stop_reason"].(string); ok {
				c.stopReason = s
			}
		}
		if usage, ok := data["usage"].(map[string]any); ok {
			c.inputTokens = intField(usage, "input_tokens")
			c.outputTokens = intField(usage, "output_tokens")
		}
	}
	return nil
}

// Response assembles the buffered blocks into the final Messages response,
// in block-index order.
func (c *Collector) Response() *anthropic.Response {
	sort.Ints(c.indexes)

	content := make([]anthropic.ContentBlock, 0, len(c.indexes))
	for _, idx := range c.indexes {
		block := c.blocks[idx]
		switch block.kind {
		case "text":
			content = append(content, anthropic.ContentBlock{Type: "text", Text: block.text.String()})
		case "thinking":
			content = append(content, anthropic.ContentBlock{Type: "thinking", Thinking: block.thinking.String()})
		case "tool_use":
			input := map[string]any{}
			if raw := strings.TrimSpace(block.toolJSON.String()); raw != "" {
				var parsed map[string]any
				if err := unmarshalJSON([]byte(raw), &parsed); err == nil {
					input = parsed
				}
			}
			content = append(content, anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    block.toolID,
				Name:  block.toolName,
				Input: input,
			})
		}
	}

	return &anthropic.Response{
		ID:         c.messageID,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      c.model,
		StopReason: c.stopReason,
		Usage: anthropic.Usage{
			InputTokens:  c.inputTokens,
			OutputTokens: c.outputTokens,
		},
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
