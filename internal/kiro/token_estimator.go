package kiro

import (
	"math"
	"strings"

	"github.com/awsl-project/kirod/internal/anthropic"
)

// TokenEstimator approximates token counts without a tokenizer. It backs the
// count_tokens endpoint when no external counter is configured, and the
// streaming usage totals when the upstream reports none.
type TokenEstimator struct{}

// NewTokenEstimator returns an estimator.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateInputTokens approximates the prompt cost of a full request:
// system prompt, message contents, and tool declarations.
func (e *TokenEstimator) EstimateInputTokens(req *anthropic.Request) int {
	total := 0

	if system := extractSystem(req.System); system != "" {
		total += e.EstimateTextTokens(system) + 2
	}

	for _, msg := range req.Messages {
		total += 3 // role framing
		switch content := msg.Content.(type) {
		case string:
			total += e.EstimateTextTokens(content)
		case []any:
			for _, block := range content {
				total += e.estimateContentBlock(block)
			}
		}
	}

	total += e.estimateTools(req.Tools)
	total += 4 // request framing
	return total
}

func (e *TokenEstimator) estimateTools(tools []anthropic.Tool) int {
	count := len(tools)
	if count == 0 {
		return 0
	}

	var base, perTool int
	switch {
	case count == 1:
		base, perTool = 0, 320
	case count <= 5:
		base, perTool = 100, 120
	default:
		base, perTool = 180, 60
	}

	total := base
	for _, tool := range tools {
		total += e.estimateToolName(tool.Name)
		total += e.EstimateTextTokens(tool.Description)

		if tool.InputSchema != nil {
			if b, err := marshalJSON(tool.InputSchema); err == nil {
				charsPerToken := 2.5
				if count == 1 {
					charsPerToken = 1.9
				} else if count <= 5 {
					charsPerToken = 2.2
				}
				schemaTokens := int(math.Ceil(float64(len(b)) / charsPerToken))
				if schemaTokens < 30 {
					schemaTokens = 30
				}
				total += schemaTokens
			}
		}
		total += perTool
	}
	return total
}

// EstimateTextTokens approximates text cost, accounting for CJK characters
// tokenizing near one-per-rune while ASCII averages several per token.
func (e *TokenEstimator) EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}

	runes := []rune(text)
	cjk := 0
	for _, r := range runes {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		}
	}
	ascii := len(runes) - cjk

	tokens := cjk
	if ascii > 0 {
		charsPerToken := 2.5
		if ascii < 50 {
			charsPerToken = 2.8
		} else if ascii < 100 {
			charsPerToken = 2.6
		}
		tokens += int(math.Ceil(float64(ascii) / charsPerToken))
	}

	// Longer texts compress better.
	switch {
	case len(runes) >= 1000:
		tokens = int(float64(tokens) * 0.60)
	case len(runes) >= 500:
		tokens = int(float64(tokens) * 0.70)
	case len(runes) >= 200:
		tokens = int(float64(tokens) * 0.85)
	case len(runes) >= 100:
		tokens = int(float64(tokens) * 0.90)
	}

	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func (e *TokenEstimator) estimateToolName(name string) int {
	if name == "" {
		return 0
	}
	tokens := (len(name)+1)/2 + strings.Count(name, "_")
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			tokens++
		}
	}
	if tokens < 2 {
		tokens = 2
	}
	return tokens
}

func (e *TokenEstimator) estimateContentBlock(block any) int {
	m, ok := block.(map[string]any)
	if !ok {
		return 10
	}

	switch m["type"] {
	case "text":
		if text, ok := m["text"].(string); ok {
			return e.EstimateTextTokens(text)
		}
		return 10
	case "image":
		return 1500
	case "tool_use":
		name, _ := m["name"].(string)
		input, _ := m["input"].(map[string]any)
		return e.EstimateToolUseTokens(name, input)
	case "tool_result":
		switch c := m["content"].(type) {
		case string:
			return e.EstimateTextTokens(c)
		case []any:
			total := 0
			for _, item := range c {
				total += e.estimateContentBlock(item)
			}
			return total
		default:
			return 50
		}
	default:
		if b, err := marshalJSON(block); err == nil {
			return len(b) / 4
		}
		return 10
	}
}

// EstimateToolUseTokens approximates one tool_use block: JSON framing, the
// tool name, and the serialized input.
func (e *TokenEstimator) EstimateToolUseTokens(name string, input map[string]any) int {
	total := 13 + e.estimateToolName(name)
	if len(input) > 0 {
		if b, err := marshalJSON(input); err == nil {
			total += len(b) / 4
		}
	} else {
		total++
	}
	return total
}
