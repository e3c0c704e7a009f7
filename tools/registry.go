package tools

import (
	"github.com/lexcodex/agentcore/framework"
)

// Options selects and configures the default tool set.
type Options struct {
	Sandbox        *framework.Sandbox
	Templates      *TemplateSet
	AllowOverwrite bool
	EnableShell    bool
	Shell          ShellOptions
}

// FileTools returns the five sandboxed file tools.
func FileTools(sb *framework.Sandbox, allowOverwrite bool) []framework.Tool {
	return []framework.Tool{
		NewCreateFileTool(sb, allowOverwrite),
		NewReadFileTool(sb),
		NewWriteFileTool(sb),
		NewListFilesTool(sb),
		NewMkdirTool(sb),
	}
}

// DefaultTools builds the standard tool list. shell_exec is only included when
// EnableShell is set; code_generate only when a template set is supplied.
func DefaultTools(opts Options) []framework.Tool {
	res := FileTools(opts.Sandbox, opts.AllowOverwrite)
	res = append(res, NewSearchTool(opts.Sandbox))
	if opts.Templates != nil {
		res = append(res, NewCodeGeneratorTool(opts.Templates))
	}
	if opts.EnableShell {
		res = append(res, NewShellTool(opts.Sandbox, opts.Shell))
	}
	return res
}

// NewRegistry registers DefaultTools into a fresh registry and freezes it.
func NewRegistry(opts Options) (*framework.ToolRegistry, error) {
	registry := framework.NewToolRegistry()
	for _, tool := range DefaultTools(opts) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	registry.Freeze()
	return registry, nil
}
