package framework

import (
	"context"
	"encoding/json"
)

// FormatJSON asks the backend for any well-formed JSON reply.
var FormatJSON = json.RawMessage(`"json"`)

// LLMOptions configures language model calls. Format, when set, is either
// FormatJSON or a JSON schema the reply must satisfy; backends without
// structured output ignore it.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
	Format      json.RawMessage
}

// ToolCall encodes a function invocation requested by the LLM.
type ToolCall struct {
	ID   string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name string                 `json:"name" yaml:"name"`
	Args map[string]interface{} `json:"args" yaml:"args"`
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty" yaml:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty" yaml:"usage,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
}

// Message is used for chat-like interactions.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// LanguageModel is the capability the agents need from an LLM backend. The
// core never performs inference itself; it only consumes text or structured
// tool calls.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolSchema, options *LLMOptions) (*LLMResponse, error)
}
