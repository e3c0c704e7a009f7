package tools

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/agentcore/framework"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

var (
	templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	templateNameRule   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

var builtinDescriptions = map[string]string{
	"gitignore":    "Ignore rules for Python and Node projects.",
	"readme":       "Project README with title and description.",
	"python_main":  "Python entry point printing a greeting.",
	"pyproject":    "PEP 621 pyproject.toml.",
	"package_json": "npm package.json manifest.",
}

// Template is a named body with {{ name }} placeholders.
type Template struct {
	Name        string `yaml:"-" json:"name"`
	Description string `yaml:"description" json:"description"`
	Body        string `yaml:"body" json:"-"`
}

// Variables lists the distinct placeholder names in body order.
func (t Template) Variables() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range templateVarPattern.FindAllStringSubmatch(t.Body, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// TemplateSet is loaded once and never modified afterwards, so concurrent
// runs can share it.
type TemplateSet struct {
	templates map[string]Template
}

type templateFile struct {
	Templates map[string]Template `yaml:"templates"`
}

// LoadTemplateSet reads the embedded templates and, when extraFile is set,
// merges the templates defined there. Redefining an existing name is an error.
func LoadTemplateSet(extraFile string) (*TemplateSet, error) {
	set := &TemplateSet{templates: make(map[string]Template)}
	entries, err := fs.ReadDir(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		body, err := embeddedTemplates.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		set.templates[name] = Template{Name: name, Description: builtinDescriptions[name], Body: string(body)}
	}
	if extraFile == "" {
		return set, nil
	}
	data, err := os.ReadFile(extraFile)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", extraFile, err)
	}
	for name, tmpl := range file.Templates {
		if !templateNameRule.MatchString(name) {
			return nil, fmt.Errorf("%w: template name %q", framework.ErrInvalidArgument, name)
		}
		if _, exists := set.templates[name]; exists {
			return nil, fmt.Errorf("%w: template %s already defined", framework.ErrInvalidArgument, name)
		}
		tmpl.Name = name
		set.templates[name] = tmpl
	}
	return set, nil
}

// Names lists template names alphabetically.
func (s *TemplateSet) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named template.
func (s *TemplateSet) Get(name string) (Template, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", framework.ErrUnknownTemplate, name)
	}
	return tmpl, nil
}

// Generate substitutes vars into the named template in a single pass.
// Substituted values are never rescanned. Every placeholder left without a
// value is reported together in a MissingVariableError.
func (s *TemplateSet) Generate(name string, vars map[string]interface{}) (string, error) {
	tmpl, err := s.Get(name)
	if err != nil {
		return "", err
	}
	var missing []string
	seen := make(map[string]struct{})
	out := templateVarPattern.ReplaceAllStringFunc(tmpl.Body, func(match string) string {
		key := templateVarPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok {
			return framework.Stringify(value)
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			missing = append(missing, key)
		}
		return match
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &framework.MissingVariableError{Template: name, Names: missing}
	}
	return out, nil
}

// CodeGeneratorTool renders project scaffolding from the template set.
type CodeGeneratorTool struct {
	Templates *TemplateSet
}

// NewCodeGeneratorTool builds code_generate.
func NewCodeGeneratorTool(set *TemplateSet) *CodeGeneratorTool {
	return &CodeGeneratorTool{Templates: set}
}

func (t *CodeGeneratorTool) Name() string { return "code_generate" }
func (t *CodeGeneratorTool) Description() string {
	if t.Templates == nil {
		return "Renders a named code template."
	}
	return fmt.Sprintf("Renders a named code template and returns the text. Templates: %s.", strings.Join(t.Templates.Names(), ", "))
}
func (t *CodeGeneratorTool) Category() string         { return "codegen" }
func (t *CodeGeneratorTool) Effect() framework.Effect { return framework.EffectReadOnly }
func (t *CodeGeneratorTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "template", Type: "string", Required: true, Description: "Template name."},
		{Name: "variables", Type: "object", Required: false, Description: "Values for the template placeholders."},
	}
}

func (t *CodeGeneratorTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if t.Templates == nil {
		return nil, fmt.Errorf("%w: no templates loaded", framework.ErrUnknownTemplate)
	}
	name, _ := args["template"].(string)
	vars, _ := args["variables"].(map[string]interface{})
	content, err := t.Templates.Generate(name, vars)
	if err != nil {
		return nil, err
	}
	return framework.NewToolResult(content, map[string]interface{}{"template": name}), nil
}
