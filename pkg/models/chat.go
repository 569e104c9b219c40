// Package models defines the shared value types exchanged between the
// providers, the tool registry, and the turn orchestrator.
package models

import "encoding/json"

// Role identifies the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry in a conversation sent to a provider.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage carries token totals reported by a provider for one call.
type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// ChatChunk is a single element of a streamed provider response.
// Text chunks arrive incrementally; the terminal chunk has Done=true and
// carries the usage totals. Error terminates the stream.
type ChatChunk struct {
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Error error  `json:"-"`
}

// ChatResult is the non-streaming completion of a provider call.
type ChatResult struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// ToolCall is a request, from the model or from host code, to execute a
// registered tool with JSON arguments.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// StreamEventType enumerates the chunk kinds emitted by the orchestrator.
type StreamEventType string

const (
	StreamChunk StreamEventType = "chunk"
	StreamError StreamEventType = "error"
	StreamDone  StreamEventType = "done"
)

// StreamEvent is one element of the orchestrator's reply stream. The
// terminal Done event names the specialist and category that handled the
// turn; the client concatenates Chunk texts to reconstruct the reply.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Text       string          `json:"text,omitempty"`
	Specialist string          `json:"specialist,omitempty"`
	Category   string          `json:"category,omitempty"`
}
