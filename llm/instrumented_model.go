package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/agentcore/framework"
)

// InstrumentedModel wraps a LanguageModel, bounds each call with Timeout and
// emits telemetry for prompts and responses. Debug adds full prompt text to
// the events.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Timeout   time.Duration
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, timeout time.Duration, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Timeout: timeout, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	meta := map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": framework.Clip(prompt, 1024),
	}
	if m.Debug {
		meta["prompt"] = framework.Clip(prompt, 8192)
	}
	m.emit("generate prompt", meta)
	ctx, cancel := m.bound(ctx)
	defer cancel()
	started := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse("generate", started, resp, err)
	return resp, err
}

func (m *InstrumentedModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.ToolSchema, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emit("chat_with_tools prompt", chatMeta(messages, tools, options, m.Debug))
	ctx, cancel := m.bound(ctx)
	defer cancel()
	started := time.Now()
	resp, err := m.Inner.ChatWithTools(ctx, messages, tools, options)
	m.emitResponse("chat_with_tools", started, resp, err)
	return resp, err
}

func (m *InstrumentedModel) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.Timeout)
}

func chatMeta(messages []framework.Message, tools []framework.ToolSchema, options *framework.LLMOptions, debug bool) map[string]interface{} {
	var roles []string
	preview := make([]map[string]interface{}, 0, min(len(messages), 20))
	for i, msg := range messages {
		if i >= 20 {
			break
		}
		roles = append(roles, msg.Role)
		preview = append(preview, map[string]interface{}{
			"role":    msg.Role,
			"content": framework.Clip(msg.Content, 512),
		})
	}
	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		toolNames = append(toolNames, t.Name)
	}
	meta := map[string]interface{}{
		"model":    modelFromOptions(options),
		"messages": len(messages),
		"roles":    strings.Join(roles, ","),
		"tools":    toolNames,
	}
	if debug {
		meta["messages_preview"] = preview
	}
	return meta
}

func (m *InstrumentedModel) emit(message string, meta map[string]interface{}) {
	framework.EmitTo(m.Telemetry, framework.Event{
		Type:     framework.EventLLMCall,
		Message:  message,
		Metadata: meta,
	})
}

func (m *InstrumentedModel) emitResponse(kind string, started time.Time, resp *framework.LLMResponse, err error) {
	meta := map[string]interface{}{
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
		m.emit(fmt.Sprintf("%s error", kind), meta)
		return
	}
	if resp != nil {
		meta["finish_reason"] = resp.FinishReason
		meta["text_preview"] = framework.Clip(resp.Text, 1024)
		meta["tool_calls"] = len(resp.ToolCalls)
		if len(resp.Usage) > 0 {
			meta["usage"] = resp.Usage
		}
	}
	m.emit(fmt.Sprintf("%s response", kind), meta)
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options == nil {
		return ""
	}
	return options.Model
}
