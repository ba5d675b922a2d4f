package kiro

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/awsl-project/kirod/internal/anthropic"
	"github.com/awsl-project/kirod/internal/domain"
)

// MaxToolDescriptionLength caps tool descriptions forwarded upstream.
const MaxToolDescriptionLength = 10000

const originAIEditor = "AI_EDITOR"

// ValidateRequest rejects requests the upstream would not accept, before a
// credential is consumed.
func ValidateRequest(req *anthropic.Request) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", domain.ErrInvalidInput)
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", domain.ErrInvalidInput)
	}
	if req.Thinking != nil && req.Thinking.BudgetTokens > req.MaxTokens {
		return fmt.Errorf("%w: thinking.budget_tokens exceeds max_tokens", domain.ErrInvalidInput)
	}
	return nil
}

// BuildRequest translates an Anthropic Messages request into the upstream
// conversational request. Conversation and message ids are minted fresh per
// request. Returns the serialized body and the mapped upstream model id.
func BuildRequest(req *anthropic.Request, rules []ModelMappingRule) ([]byte, string, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, "", err
	}

	modelID := MapModel(req.Model, rules)

	cw := ConverseRequest{}
	cw.ConversationState.AgentContinuationID = uuid.NewString()
	cw.ConversationState.AgentTaskType = "vibe"
	cw.ConversationState.ChatTriggerType = chatTriggerType(req)
	cw.ConversationState.ConversationID = uuid.NewString()

	last := req.Messages[len(req.Messages)-1]
	text, images, toolResults, err := flattenContent(last.Content)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	msg := &cw.ConversationState.CurrentMessage.UserInputMessage
	msg.Content = text
	msg.ModelID = modelID
	msg.Origin = originAIEditor
	msg.Images = images
	if msg.Images == nil {
		msg.Images = []Image{}
	}

	if len(toolResults) > 0 {
		msg.UserInputMessageContext.ToolResults = toolResults
		// Tool feedback turns carry their payload in toolResults only.
		msg.Content = ""
	}

	if tools := convertTools(req.Tools); len(tools) > 0 {
		msg.UserInputMessageContext.Tools = tools
	}

	cw.InferenceConfig = &InferenceConfig{
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
	}

	// Extended reasoning requires temperature 1.0 upstream; the budget rides
	// on the current message.
	if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
		msg.ReasoningBudget = req.Thinking.BudgetTokens
		one := 1.0
		cw.InferenceConfig.Temperature = &one
	}

	if req.System != nil || len(req.Messages) > 1 || len(req.Tools) > 0 {
		cw.ConversationState.History = buildHistory(req, modelID)
	}

	body, err := marshalJSON(cw)
	if err != nil {
		return nil, "", fmt.Errorf("serialize upstream request: %w", err)
	}
	return body, modelID, nil
}

func chatTriggerType(req *anthropic.Request) string {
	if len(req.Tools) > 0 && req.ToolChoice != nil {
		switch tc := req.ToolChoice.(type) {
		case map[string]any:
			if t, _ := tc["type"].(string); t == "any" || t == "tool" {
				return "AUTO"
			}
		case string:
			if tc == "any" || tc == "tool" {
				return "AUTO"
			}
		}
	}
	return "MANUAL"
}

// flattenContent splits a message's content into text, inline images and
// tool results. Content is either a plain string or an array of typed
// blocks.
func flattenContent(content any) (string, []Image, []ToolResult, error) {
	switch v := content.(type) {
	case string:
		return v, nil, nil, nil
	case []any:
		var textParts []string
		var images []Image
		var toolResults []ToolResult
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if text, ok := block["text"].(string); ok {
					textParts = append(textParts, text)
				}
			case "image":
				if source, ok := block["source"].(map[string]any); ok {
					if img := convertImage(source); img != nil {
						images = append(images, *img)
					}
				}
			case "tool_result":
				if tr := convertToolResult(block); tr != nil {
					toolResults = append(toolResults, *tr)
				}
			}
		}
		return strings.Join(textParts, ""), images, toolResults, nil
	default:
		return "", nil, nil, fmt.Errorf("unsupported content type %T", content)
	}
}

func convertImage(source map[string]any) *Image {
	data, _ := source["data"].(string)
	if data == "" {
		return nil
	}
	mediaType, _ := source["media_type"].(string)

	format := "png"
	switch {
	case strings.Contains(mediaType, "jpeg"), strings.Contains(mediaType, "jpg"):
		format = "jpeg"
	case strings.Contains(mediaType, "gif"):
		format = "gif"
	case strings.Contains(mediaType, "webp"):
		format = "webp"
	}

	img := &Image{Format: format}
	img.Source.Bytes = data
	return img
}

func convertToolResult(block map[string]any) *ToolResult {
	toolUseID, _ := block["tool_use_id"].(string)
	if toolUseID == "" {
		return nil
	}

	tr := &ToolResult{ToolUseID: toolUseID, Status: "success"}
	if isError, ok := block["is_error"].(bool); ok && isError {
		tr.Status = "error"
		tr.IsError = true
	}
	if content, ok := block["content"]; ok {
		tr.Content = toolResultContent(content)
	}
	return tr
}

func toolResultContent(content any) []map[string]any {
	switch c := content.(type) {
	case string:
		return []map[string]any{{"text": c}}
	case []any:
		var out []map[string]any
		for _, item := range c {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{c}
	default:
		return []map[string]any{{"text": fmt.Sprintf("%v", c)}}
	}
}

// isWebSearchTool reports whether a tool is a built-in web search entry,
// which the upstream does not accept and is dropped silently.
func isWebSearchTool(name string) bool {
	n := strings.ToLower(name)
	return n == "web_search" || n == "websearch"
}

func convertTools(tools []anthropic.Tool) []Tool {
	var out []Tool
	for _, tool := range tools {
		if tool.Name == "" || isWebSearchTool(tool.Name) {
			continue
		}

		t := Tool{}
		t.ToolSpecification.Name = tool.Name

		desc := tool.Description
		if len(desc) > MaxToolDescriptionLength {
			desc = desc[:MaxToolDescriptionLength]
		}
		t.ToolSpecification.Description = desc

		if schema, ok := tool.InputSchema.(map[string]any); ok {
			t.ToolSpecification.InputSchema = InputSchema{JSON: schema}
		}
		out = append(out, t)
	}
	return out
}

// buildHistory assembles prior turns. The upstream requires strict
// user/assistant alternation, so consecutive user turns merge and unpaired
// user turns are answered with a synthetic "OK". A system prompt becomes the
// leading pair.
func buildHistory(req *anthropic.Request, modelID string) []any {
	var history []any

	if system := extractSystem(req.System); system != "" {
		user := HistoryUserMessage{}
		user.UserInputMessage.Content = system
		user.UserInputMessage.ModelID = modelID
		user.UserInputMessage.Origin = originAIEditor
		history = append(history, user)

		assistant := HistoryAssistantMessage{}
		assistant.AssistantResponseMessage.Content = "OK"
		history = append(history, assistant)
	}

	if len(req.Messages) <= 1 {
		return history
	}

	end := len(req.Messages) - 1
	if req.Messages[len(req.Messages)-1].Role == "assistant" {
		end = len(req.Messages)
	}

	var userBuffer []anthropic.Message
	for i := 0; i < end; i++ {
		msg := req.Messages[i]
		if msg.Role == "user" {
			userBuffer = append(userBuffer, msg)
			continue
		}
		if msg.Role == "assistant" && len(userBuffer) > 0 {
			history = append(history, mergeUserMessages(userBuffer, modelID))
			userBuffer = nil
			history = append(history, convertAssistantMessage(msg))
		}
	}

	if len(userBuffer) > 0 {
		history = append(history, mergeUserMessages(userBuffer, modelID))
		assistant := HistoryAssistantMessage{}
		assistant.AssistantResponseMessage.Content = "OK"
		history = append(history, assistant)
	}

	return history
}

// extractSystem concatenates a system prompt given as a string or as an
// array of text parts.
func extractSystem(system any) string {
	switch s := system.(type) {
	case string:
		return s
	case []any:
		var parts []string
		for _, item := range s {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func mergeUserMessages(messages []anthropic.Message, modelID string) HistoryUserMessage {
	var contentParts []string
	var allImages []Image
	var allToolResults []ToolResult

	for _, msg := range messages {
		text, images, toolResults, _ := flattenContent(msg.Content)
		if text != "" {
			contentParts = append(contentParts, text)
		}
		allImages = append(allImages, images...)
		allToolResults = append(allToolResults, toolResults...)
	}

	user := HistoryUserMessage{}
	user.UserInputMessage.Content = strings.Join(contentParts, "\n")
	user.UserInputMessage.ModelID = modelID
	user.UserInputMessage.Origin = originAIEditor
	if len(allImages) > 0 {
		user.UserInputMessage.Images = allImages
	}
	if len(allToolResults) > 0 {
		user.UserInputMessage.UserInputMessageContext.ToolResults = allToolResults
		user.UserInputMessage.Content = ""
	}
	return user
}

func convertAssistantMessage(msg anthropic.Message) HistoryAssistantMessage {
	assistant := HistoryAssistantMessage{}

	text, _, _, _ := flattenContent(msg.Content)
	assistant.AssistantResponseMessage.Content = text

	if toolUses := extractToolUses(msg.Content); len(toolUses) > 0 {
		assistant.AssistantResponseMessage.ToolUses = toolUses
	}
	return assistant
}

func extractToolUses(content any) []ToolUseEntry {
	blocks, ok := content.([]any)
	if !ok {
		return nil
	}

	var toolUses []ToolUseEntry
	for _, item := range blocks {
		block, ok := item.(map[string]any)
		if !ok || block["type"] != "tool_use" {
			continue
		}

		name, _ := block["name"].(string)
		if isWebSearchTool(name) {
			continue
		}

		entry := ToolUseEntry{Name: name}
		if id, ok := block["id"].(string); ok {
			entry.ToolUseID = id
		}
		if input, ok := block["input"].(map[string]any); ok {
			entry.Input = input
		} else {
			entry.Input = map[string]any{}
		}
		toolUses = append(toolUses, entry)
	}
	return toolUses
}
