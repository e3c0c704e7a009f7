package framework

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\n\\s*```")

// RenderToolsToPrompt converts tool schemas into a prompt section. This is
// used when the LLM does not support the native tool calling API.
func RenderToolsToPrompt(tools []ToolSchema) string {
	if len(tools) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, return a JSON object with 'tool' (name) and 'arguments' (map).\n\n")
	for _, tool := range tools {
		b.WriteString(fmt.Sprintf("## %s\n", tool.Name))
		b.WriteString(fmt.Sprintf("%s\n", tool.Description))
		b.WriteString("Arguments:\n")
		if len(tool.Parameters) == 0 {
			b.WriteString("  (No arguments)\n")
		} else {
			for _, param := range tool.Parameters {
				req := "optional"
				if param.Required {
					req = "required"
				}
				b.WriteString(fmt.Sprintf("  - %s (%s, %s): %s\n", param.Name, param.Type, req, param.Description))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Reference the output of an earlier step with {{step_N.output}}.\n")
	b.WriteString("Example Call:\n")
	b.WriteString("```json\n{\"tool\": \"tool_name\", \"arguments\": {\"arg1\": \"value\"}}\n```\n")
	return b.String()
}

// ParseToolCallsFromText extracts potential tool calls from raw LLM output.
// It looks for fenced JSON blocks and for a bare JSON object.
func ParseToolCallsFromText(text string) []ToolCall {
	var calls []ToolCall
	for _, match := range jsonBlockRegex.FindAllStringSubmatch(text, -1) {
		if call, ok := tryParseSingleToolCall(match[1]); ok {
			calls = append(calls, call)
		}
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if call, ok := tryParseSingleToolCall(trimmed); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func tryParseSingleToolCall(jsonText string) (ToolCall, bool) {
	var raw struct {
		Tool      string                 `json:"tool"`
		Name      string                 `json:"name"` // alias for 'tool'
		Arguments map[string]interface{} `json:"arguments"`
		Args      map[string]interface{} `json:"args"` // alias for 'arguments'
	}
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return ToolCall{}, false
	}
	name := raw.Tool
	if name == "" {
		name = raw.Name
	}
	if name == "" {
		return ToolCall{}, false
	}
	args := raw.Arguments
	if args == nil {
		args = raw.Args
	}
	if args == nil {
		args = make(map[string]interface{})
	}
	return ToolCall{Name: name, Args: args}, true
}

// Clip shortens s to at most max bytes plus an ellipsis, cutting on a rune
// boundary. max <= 0 disables clipping.
func Clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
