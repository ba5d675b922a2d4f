// Package anthropic holds the Messages API wire types served on the north
// side of the proxy.
package anthropic

// Request is an Anthropic Messages API request body.
type Request struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	System        any               `json:"system,omitempty"` // string or []SystemBlock
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tools         []Tool            `json:"tools,omitempty"`
	ToolChoice    any               `json:"tool_choice,omitempty"`
	Thinking      *Thinking         `json:"thinking,omitempty"`
}

// Message is one conversation turn. Content is either a plain string or an
// array of content blocks.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlock is one element of a response content array.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Input    any    `json:"input,omitempty"`
}

// Tool is a client-declared tool definition.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

// Thinking enables extended reasoning with a token budget.
type Thinking struct {
	Type         string `json:"type,omitempty"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Response is a non-streaming Messages API response.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage carries token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the Anthropic error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error class and message inside the envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds the standard error envelope.
func NewError(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	}
}

// Model is one entry of the /v1/models listing.
type Model struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

// SupportedModels lists the model ids advertised on /v1/models. Requests are
// not limited to these names; any model name is mapped upstream.
var SupportedModels = []Model{
	{ID: "claude-sonnet-4-5", Type: "model", DisplayName: "Claude Sonnet 4.5"},
	{ID: "claude-opus-4-5", Type: "model", DisplayName: "Claude Opus 4.5"},
	{ID: "claude-haiku-4-5", Type: "model", DisplayName: "Claude Haiku 4.5"},
}
