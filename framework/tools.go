package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Effect declares whether a tool can change the sandbox.
type Effect string

const (
	EffectReadOnly Effect = "read_only"
	EffectMutating Effect = "mutating"
)

// Tool defines capabilities accessible to agents. The metadata doubles as a
// schema that LLMs reason about when deciding which tool to call, and as the
// contract the dispatcher validates arguments against.
type Tool interface {
	Name() string
	Description() string
	Category() string
	Effect() Effect
	Parameters() []ToolParameter
	Execute(ctx context.Context, args map[string]interface{}) (*ToolResult, error)
}

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// ToolResult is returned by every tool execution. Failed results carry the
// error descriptor in Error and its classification in Kind/Category.
type ToolResult struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Kind     string                 `json:"kind,omitempty"`
	Category ErrorCategory          `json:"category,omitempty"`
}

// OutputKey is the payload field every tool fills with its primary output.
const OutputKey = "output"

// NewToolResult builds a successful result. output lands under OutputKey.
func NewToolResult(output interface{}, extra map[string]interface{}) *ToolResult {
	data := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}
	data[OutputKey] = output
	return &ToolResult{Success: true, Data: data}
}

// FailureResult turns a resource error into a failed result payload.
func FailureResult(err error, data map[string]interface{}) *ToolResult {
	return &ToolResult{
		Success:  false,
		Data:     data,
		Error:    err.Error(),
		Kind:     KindOf(err),
		Category: CategoryOf(err),
	}
}

// Output returns the primary output rendered as text.
func (r *ToolResult) Output() string {
	if r == nil || r.Data == nil {
		return ""
	}
	return Stringify(r.Data[OutputKey])
}

// ExitCode reports the exit code of a shell result. ok is false for results
// that did not come from a subprocess.
func (r *ToolResult) ExitCode() (code int, ok bool) {
	if r == nil || r.Data == nil {
		return 0, false
	}
	switch v := r.Data["exit_code"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Stringify renders payload values for prompts and placeholder substitution.
// Strings pass through, everything else is JSON encoded.
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}

// ToolSchema is the serializable description of a tool used to prime prompts.
type ToolSchema struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Category    string          `json:"category" yaml:"category"`
	Effect      Effect          `json:"effect" yaml:"effect"`
	Parameters  []ToolParameter `json:"parameters" yaml:"parameters"`
}

// SchemaOf captures the metadata of a tool.
func SchemaOf(tool Tool) ToolSchema {
	params := tool.Parameters()
	if params == nil {
		params = []ToolParameter{}
	}
	return ToolSchema{
		Name:        tool.Name(),
		Description: tool.Description(),
		Category:    tool.Category(),
		Effect:      tool.Effect(),
		Parameters:  params,
	}
}

// ToolRegistry maintains tools and ensures metadata lookups are fast. Agents
// keep a shared registry instance; once frozen it is read-only and safe to
// share between concurrent runs.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	frozen bool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("%w: tool name cannot be empty", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, tool.Name())
	}
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("%w: %s already registered", ErrDuplicateTool, tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Freeze makes the registry read-only.
func (r *ToolRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// All returns all registered tools sorted by name.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

// DescribeAll returns the schema list used to prime LLM prompts.
func (r *ToolRegistry) DescribeAll() []ToolSchema {
	tools := r.All()
	schemas := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, SchemaOf(t))
	}
	return schemas
}

// ValidateArguments checks args against the tool's declared parameters:
// required names must be present and values must match the declared type.
// Missing optional parameters receive their declared default.
func ValidateArguments(tool Tool, args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, param := range tool.Parameters() {
		value, ok := out[param.Name]
		if !ok || value == nil {
			if param.Required {
				return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidArgument, tool.Name(), param.Name)
			}
			if param.Default != nil {
				out[param.Name] = param.Default
			}
			continue
		}
		if !matchesType(param.Type, value) {
			return nil, fmt.Errorf("%w: %s.%s must be %s, got %T", ErrInvalidArgument, tool.Name(), param.Name, param.Type, value)
		}
	}
	return out, nil
}

func matchesType(kind string, value interface{}) bool {
	switch kind {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		switch value.(type) {
		case []interface{}, []string:
			return true
		}
		return false
	}
	return false
}
