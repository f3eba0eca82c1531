// Package llm defines the narrow contract between the conversational core
// and a generative model provider. The orchestration state machine only ever
// sees streams of chunks that carry either a text fragment or exactly one
// structured tool call, so swapping the provider never touches the core.
package llm

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message of the conversation, supplied by the client on
// every request. Nothing is persisted server-side.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// ToolSpec describes one data-retrieval operation the model may request.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
}

// ToolCall is a structured request from the model to run a named tool.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Chunk is one incremental unit of model output. Exactly one of Text and
// Call is set; a chunk with neither is malformed and should be skipped by
// the caller.
type Chunk struct {
	Text string
	Call *ToolCall
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Next() (*Chunk, error)
}

type SessionConfig struct {
	SystemInstruction string
	Tools             []ToolSpec
	History           []Turn
	Temperature       float32
	MaxOutputTokens   int32
}

// Session is one model conversation. SendToolResult folds a tool result back
// into the conversation and returns the model's continuation.
type Session interface {
	SendMessage(ctx context.Context, text string) (Stream, error)
	SendToolResult(ctx context.Context, name string, payload map[string]any) (Stream, error)
}

type Client interface {
	NewSession(cfg SessionConfig) (Session, error)

	// Classify runs a low-temperature call expected to emit a single label
	// token for the given message.
	Classify(ctx context.Context, instruction, message string) (string, error)

	// GenerateJSON forces a machine-checkable JSON response.
	GenerateJSON(ctx context.Context, instruction, prompt string) ([]byte, error)

	Close() error
}
