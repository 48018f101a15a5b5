// Package ports declares the abstract collaborators the Investigation
// Engine and the outer services depend on: LLM, case
// repository, file storage, vector store, job queue, and cache. Each
// port except file storage has one concrete adapter elsewhere in the
// module (pkg/llmadapter, pkg/vectoradapter, pkg/storage, pkg/jobs,
// pkg/cache); file storage has none.
package ports

import "context"

// Role identifies the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn in an LLM conversation.
type ChatMessage struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolCall is an LLM-requested invocation of a named tool.
type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// ResponseFormat constrains the shape of the LLM's reply.
type ResponseFormat string

const (
	ResponseFormatText       ResponseFormat = "text"
	ResponseFormatJSONObject ResponseFormat = "json_object"
	ResponseFormatJSONSchema ResponseFormat = "json_schema"
)

// ChatRequest is the input to a single LLM call.
type ChatRequest struct {
	Messages       []ChatMessage
	Model          string
	Temperature    float64
	MaxTokens      int
	Tools          []ToolDefinition
	ResponseFormat ResponseFormat
	// JSONSchema is the schema body when ResponseFormat is
	// ResponseFormatJSONSchema; ignored otherwise.
	JSONSchema []byte
}

// ToolDefinition describes a tool the LLM may call.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatResponse is a completed (non-streaming) LLM reply.
type ChatResponse struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
	// Parsed holds the raw bytes of a structured JSON reply when
	// ResponseFormat requested one; callers unmarshal it themselves.
	Parsed []byte
}

// StreamChunk is one piece of a streamed LLM reply.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// LLM is the consumed port for language-model calls.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	Embed(ctx context.Context, text string, model string) ([]float32, error)
}
