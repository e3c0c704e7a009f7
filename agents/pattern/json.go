package pattern

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexcodex/agentcore/framework"
)

// ExtractJSONSnippet returns the substring containing the JSON payload if
// present. When delimiters are missing it returns an empty string so callers
// can surface a more helpful error.
func ExtractJSONSnippet(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end >= start {
		return raw[start : end+1]
	}
	return ""
}

// planFormat and decisionFormat are the JSON schemas sent as the response
// format when structured output is enabled. DecodePlan and DecodeDecision
// still validate every reply.
var (
	planFormat = json.RawMessage(`{
  "type": "object",
  "properties": {
    "goal": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "tool": {"type": "string"},
          "arguments": {"type": "object"}
        },
        "required": ["tool", "arguments"]
      }
    }
  },
  "required": ["steps"]
}`)
	decisionFormat = json.RawMessage(`{
  "type": "object",
  "properties": {
    "thought": {"type": "string"},
    "tool": {"type": "string"},
    "arguments": {"type": "object"},
    "complete": {"type": "boolean"},
    "answer": {"type": "string"}
  },
  "required": ["thought"]
}`)
)

type planPayload struct {
	Goal  string        `json:"goal"`
	Steps []stepPayload `json:"steps"`
}

type stepPayload struct {
	ID          int                    `json:"id"`
	Description string                 `json:"description"`
	Tool        string                 `json:"tool"`
	Arguments   map[string]interface{} `json:"arguments"`
	Params      map[string]interface{} `json:"params"` // alias for 'arguments'
}

// DecodePlan parses the planning response and validates it against the
// registry before anything runs: every step must name a registered tool and
// may only reference steps that run before it. Steps are numbered from 1 in
// list order, which is also the order the executor binds step_N.
func DecodePlan(raw string, registry *framework.ToolRegistry) (*framework.Plan, error) {
	snippet := ExtractJSONSnippet(raw)
	if snippet == "" {
		return nil, fmt.Errorf("%w: plan is not a JSON object", framework.ErrMalformedResponse)
	}
	var payload planPayload
	if err := json.Unmarshal([]byte(snippet), &payload); err != nil {
		return nil, fmt.Errorf("%w: plan: %v", framework.ErrMalformedResponse, err)
	}
	if len(payload.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", framework.ErrMalformedResponse)
	}
	plan := &framework.Plan{Goal: strings.TrimSpace(payload.Goal), Steps: make([]framework.PlanStep, 0, len(payload.Steps))}
	for i, raw := range payload.Steps {
		index := i + 1
		tool := strings.TrimSpace(raw.Tool)
		if tool == "" {
			return nil, fmt.Errorf("%w: step %d names no tool", framework.ErrMalformedResponse, index)
		}
		if registry != nil && !registry.Has(tool) {
			return nil, fmt.Errorf("%w: step %d: %s", framework.ErrUnknownTool, index, tool)
		}
		args := raw.Arguments
		if args == nil {
			args = raw.Params
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		refs, err := framework.ScanReferences(args)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if ref.Step >= index {
				return nil, &framework.UnresolvedReferenceError{
					Reference: ref.String(),
					Reason:    fmt.Sprintf("step %d cannot read a step that has not run before it", index),
				}
			}
		}
		plan.Steps = append(plan.Steps, framework.PlanStep{
			ID:          index,
			Description: strings.TrimSpace(raw.Description),
			Tool:        tool,
			Arguments:   args,
		})
	}
	return plan, nil
}

// Decision is the outcome of one thinking step: a tool to call, a final
// answer, or both (act, then finish when the action succeeds).
type Decision struct {
	Thought   string                 `json:"thought,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Complete  bool                   `json:"complete"`
	Answer    string                 `json:"answer,omitempty"`
	CallID    string                 `json:"-"`
	Native    bool                   `json:"-"` // came from a structured tool call
}

// Acts reports whether the decision requests a tool invocation.
func (d Decision) Acts() bool { return d.Tool != "" }

// DecodeDecision parses a text-mode decision. The response must contain a
// JSON object naming a tool, completion, or both; anything else is malformed.
func DecodeDecision(raw string) (Decision, error) {
	snippet := ExtractJSONSnippet(raw)
	if snippet == "" {
		return Decision{}, fmt.Errorf("%w: decision is not a JSON object", framework.ErrMalformedResponse)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(snippet), &generic); err != nil {
		// Several objects (e.g. prose with a fenced call) defeat the outermost
		// brace heuristic; fall back to per-block parsing.
		if calls := framework.ParseToolCallsFromText(raw); len(calls) > 0 {
			return Decision{Tool: calls[0].Name, Arguments: calls[0].Args}, nil
		}
		return Decision{}, fmt.Errorf("%w: decision: %v", framework.ErrMalformedResponse, err)
	}
	var d Decision
	d.Thought, _ = generic["thought"].(string)
	if tool, ok := generic["tool"].(string); ok {
		d.Tool = tool
	} else if name, ok := generic["name"].(string); ok {
		d.Tool = name
	}
	d.Tool = strings.TrimSpace(d.Tool)
	if strings.EqualFold(d.Tool, "none") {
		d.Tool = ""
	}
	if args, ok := generic["arguments"]; ok {
		d.Arguments = normalizeArguments(args)
	} else if args, ok := generic["args"]; ok {
		d.Arguments = normalizeArguments(args)
	}
	if d.Arguments == nil {
		d.Arguments = map[string]interface{}{}
	}
	d.Complete, _ = generic["complete"].(bool)
	for _, key := range []string{"answer", "final_answer"} {
		if answer, ok := generic[key].(string); ok && answer != "" {
			d.Answer = answer
			break
		}
	}
	if !d.Acts() && !d.Complete {
		return Decision{}, fmt.Errorf("%w: decision names neither a tool nor completion", framework.ErrMalformedResponse)
	}
	if d.Complete && d.Answer == "" {
		d.Answer = d.Thought
	}
	return d, nil
}

// DecodeToolCallResponse interprets a native tool-calling response. The first
// structured tool call wins; otherwise a JSON decision in the text is honored,
// and plain text is the final answer.
func DecodeToolCallResponse(resp *framework.LLMResponse) (Decision, error) {
	if resp == nil {
		return Decision{}, fmt.Errorf("%w: empty response", framework.ErrMalformedResponse)
	}
	text := strings.TrimSpace(resp.Text)
	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		args := call.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		return Decision{Thought: text, Tool: call.Name, Arguments: args, CallID: call.ID, Native: true}, nil
	}
	if text == "" {
		return Decision{}, fmt.Errorf("%w: response has neither text nor tool calls", framework.ErrMalformedResponse)
	}
	if ExtractJSONSnippet(text) != "" {
		if d, err := DecodeDecision(text); err == nil {
			return d, nil
		}
	}
	return Decision{Thought: text, Complete: true, Answer: text}, nil
}

// normalizeArguments coerces stringified JSON arguments into maps so tools
// always receive structured input.
func normalizeArguments(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case string:
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(v), &obj); err == nil {
			return obj
		}
		return map[string]interface{}{"value": v}
	default:
		return map[string]interface{}{}
	}
}
