package kiro

// Wire types for the Kiro conversational API. Field layout follows the
// upstream service exactly; the nested anonymous structs mirror the JSON
// the IDE client sends.

// ConverseRequest is the body POSTed to the assistant-response endpoints.
type ConverseRequest struct {
	ConversationState ConversationState `json:"conversationState"`
	InferenceConfig   *InferenceConfig  `json:"inferenceConfig,omitempty"`
}

// InferenceConfig carries the sampling parameters forwarded upstream.
type InferenceConfig struct {
	MaxTokens     int      `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

// ConversationState carries the current turn plus prior history.
type ConversationState struct {
	AgentContinuationID string         `json:"agentContinuationId"`
	AgentTaskType       string         `json:"agentTaskType"`
	ChatTriggerType     string         `json:"chatTriggerType"`
	CurrentMessage      CurrentMessage `json:"currentMessage"`
	ConversationID      string         `json:"conversationId"`
	History             []any          `json:"history"`
}

// CurrentMessage wraps the user turn being answered.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// UserInputMessage is one user turn: text, images and tool results.
type UserInputMessage struct {
	Content                 string                  `json:"content"`
	ModelID                 string                  `json:"modelId"`
	Origin                  string                  `json:"origin"`
	Images                  []Image                 `json:"images"`
	UserInputMessageContext UserInputMessageContext `json:"userInputMessageContext"`
	// ReasoningBudget carries thinking.budget_tokens when extended
	// reasoning is requested.
	ReasoningBudget int `json:"reasoningBudget,omitempty"`
}

// UserInputMessageContext carries tool declarations and tool results.
type UserInputMessageContext struct {
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Tools       []Tool       `json:"tools,omitempty"`
}

// Image is a base64-inlined image attachment.
type Image struct {
	Format string `json:"format"` // "jpeg", "png", "gif", "webp"
	Source struct {
		Bytes string `json:"bytes"`
	} `json:"source"`
}

// Tool wraps a tool specification.
type Tool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification declares one callable tool.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps the tool's JSON schema.
type InputSchema struct {
	JSON map[string]any `json:"json"`
}

// ToolResult reports the outcome of an earlier tool invocation.
type ToolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Content   []map[string]any `json:"content"`
	Status    string           `json:"status"` // "success" or "error"
	IsError   bool             `json:"isError,omitempty"`
}

// HistoryUserMessage is a prior user turn in conversation history.
type HistoryUserMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// HistoryAssistantMessage is a prior assistant turn in history.
type HistoryAssistantMessage struct {
	AssistantResponseMessage struct {
		Content  string         `json:"content"`
		ToolUses []ToolUseEntry `json:"toolUses"`
	} `json:"assistantResponseMessage"`
}

// ToolUseEntry records a tool call inside a history assistant turn.
type ToolUseEntry struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// Decoded event payloads.

// assistantResponseEvent carries streamed assistant text.
type assistantResponseEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	ContentType    string `json:"contentType,omitempty"`
	MessageStatus  string `json:"messageStatus,omitempty"`
}

// toolUseEvent carries a tool invocation, possibly split across several
// frames whose Input fields are raw JSON fragments; Stop marks the last one.
type toolUseEvent struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
	Stop      bool   `json:"stop"`
}

// contentBlockStartEvent opens a block at an explicit index.
type contentBlockStartEvent struct {
	ContentBlockIndex int `json:"contentBlockIndex"`
	Start             struct {
		ToolUse *struct {
			ToolUseID string `json:"toolUseId"`
			Name      string `json:"name"`
		} `json:"toolUse,omitempty"`
	} `json:"start"`
}

// contentBlockDeltaEvent carries a delta for an indexed block: plain text,
// reasoning text, or a tool input JSON fragment.
type contentBlockDeltaEvent struct {
	ContentBlockIndex int `json:"contentBlockIndex"`
	Delta             struct {
		Text             string `json:"text,omitempty"`
		ReasoningContent *struct {
			Text string `json:"text,omitempty"`
		} `json:"reasoningContent,omitempty"`
		ToolUse *struct {
			Input string `json:"input,omitempty"`
		} `json:"toolUse,omitempty"`
	} `json:"delta"`
}

// contentBlockStopEvent closes an indexed block.
type contentBlockStopEvent struct {
	ContentBlockIndex int `json:"contentBlockIndex"`
}

// messageDeltaEvent carries the stop reason and usage totals.
type messageDeltaEvent struct {
	StopReason string `json:"stopReason,omitempty"`
	Usage      *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage,omitempty"`
}

// exceptionPayload is the body of error/exception message types.
type exceptionPayload struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}
