package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/agentcore/framework"
)

// ErrScriptExhausted is returned once every scripted reply has been used.
var ErrScriptExhausted = errors.New("scripted model: no responses left")

// ScriptedReply is one canned model turn. A non-empty Error makes the call
// fail with that message instead.
type ScriptedReply struct {
	Text      string               `yaml:"text"`
	ToolCalls []framework.ToolCall `yaml:"tool_calls,omitempty"`
	Error     string               `yaml:"error,omitempty"`
}

type scriptFile struct {
	Responses []ScriptedReply `yaml:"responses"`
}

// ScriptedCall records what the model was asked.
type ScriptedCall struct {
	Kind     string
	Prompt   string
	Messages []framework.Message
	Tools    []string
}

// ScriptedModel replays replies in order. It backs offline runs and tests.
type ScriptedModel struct {
	mu      sync.Mutex
	replies []ScriptedReply
	calls   []ScriptedCall
}

// NewScriptedModel queues replies.
func NewScriptedModel(replies ...ScriptedReply) *ScriptedModel {
	return &ScriptedModel{replies: append([]ScriptedReply(nil), replies...)}
}

// LoadScript reads a YAML file of the form
//
//	responses:
//	  - text: '{"tool": "file_read", "arguments": {"path": "a.txt"}}'
//	  - tool_calls: [{name: file_list, args: {path: .}}]
func LoadScript(path string) (*ScriptedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(file.Responses) == 0 {
		return nil, fmt.Errorf("script %s has no responses", path)
	}
	return NewScriptedModel(file.Responses...), nil
}

// Generate pops the next reply.
func (m *ScriptedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return m.next(ctx, ScriptedCall{Kind: "generate", Prompt: prompt})
}

// ChatWithTools pops the next reply.
func (m *ScriptedModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.ToolSchema, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return m.next(ctx, ScriptedCall{
		Kind:     "chat_with_tools",
		Messages: append([]framework.Message(nil), messages...),
		Tools:    names,
	})
}

func (m *ScriptedModel) next(ctx context.Context, call ScriptedCall) (*framework.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if len(m.replies) == 0 {
		return nil, ErrScriptExhausted
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return &framework.LLMResponse{
		Text:         reply.Text,
		FinishReason: "stop",
		ToolCalls:    append([]framework.ToolCall(nil), reply.ToolCalls...),
	}, nil
}

// Calls returns every call made so far.
func (m *ScriptedModel) Calls() []ScriptedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ScriptedCall(nil), m.calls...)
}

// Remaining reports how many replies are still queued.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}
