package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lexcodex/agentcore/framework"
)

// DefaultAllowedCommands is the fixed set of executables shell_exec may
// start. Configuration can only narrow it.
var DefaultAllowedCommands = []string{
	"ls", "cat", "echo", "pwd", "mkdir", "touch",
	"git", "python", "pip", "npm", "poetry",
}

// ShellOptions configures ShellTool.
type ShellOptions struct {
	// Allow narrows DefaultAllowedCommands. Empty keeps the full list.
	Allow          []string
	Timeout        time.Duration
	MaxOutputBytes int
	Runner         framework.CommandRunner
}

// ShellTool runs allow-listed commands inside the sandbox. The command line is
// tokenized here and the executable started directly, so no shell ever sees
// it: ;, |, && and redirections are plain argument text.
type ShellTool struct {
	sandbox *framework.Sandbox
	allowed map[string]struct{}
	timeout time.Duration
	runner  framework.CommandRunner
}

// NewShellTool builds shell_exec.
func NewShellTool(sb *framework.Sandbox, opts ShellOptions) *ShellTool {
	allowed := make(map[string]struct{}, len(DefaultAllowedCommands))
	for _, name := range DefaultAllowedCommands {
		allowed[name] = struct{}{}
	}
	if len(opts.Allow) > 0 {
		narrowed := make(map[string]struct{}, len(opts.Allow))
		for _, name := range opts.Allow {
			if _, ok := allowed[name]; ok {
				narrowed[name] = struct{}{}
			}
		}
		allowed = narrowed
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = framework.DefaultCommandTimeout
	}
	runner := opts.Runner
	if runner == nil {
		runner = &framework.LocalCommandRunner{MaxOutputBytes: opts.MaxOutputBytes}
	}
	return &ShellTool{sandbox: sb, allowed: allowed, timeout: timeout, runner: runner}
}

// Allowed lists the executables this instance accepts.
func (t *ShellTool) Allowed() []string {
	names := make([]string, 0, len(t.allowed))
	for name := range t.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *ShellTool) Name() string { return "shell_exec" }
func (t *ShellTool) Description() string {
	return fmt.Sprintf("Runs a single command in the workspace without a shell. Allowed executables: %s.", strings.Join(t.Allowed(), ", "))
}
func (t *ShellTool) Category() string         { return "shell" }
func (t *ShellTool) Effect() framework.Effect { return framework.EffectMutating }
func (t *ShellTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "command", Type: "string", Required: true, Description: "Command line, e.g. \"git status\"."},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	line, _ := args["command"].(string)
	argv, err := SplitCommandLine(line)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", framework.ErrInvalidArgument)
	}
	if err := t.authorize(argv); err != nil {
		return nil, err
	}
	result, err := t.runner.Run(ctx, framework.CommandRequest{
		Workdir: t.sandbox.Root(),
		Args:    argv,
		Env:     t.environment(),
		Timeout: t.timeout,
	})
	data := map[string]interface{}{"command": line}
	if result != nil {
		data["stdout"] = result.Stdout
		data["stderr"] = result.Stderr
		data["exit_code"] = result.ExitCode
		data["truncated"] = result.Truncated
		data["duration_ms"] = result.Duration.Milliseconds()
	}
	if err != nil {
		if errors.Is(err, framework.ErrTimeout) || errors.Is(err, framework.ErrNotFound) {
			return framework.FailureResult(err, data), nil
		}
		return nil, err
	}
	return framework.NewToolResult(result.Stdout, data), nil
}

// authorize checks the executable against the allow-list and confines every
// path-looking argument to the sandbox. It runs before anything is started.
func (t *ShellTool) authorize(argv []string) error {
	name := argv[0]
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %s (executables are named, not pathed)", framework.ErrCommandNotAllowed, name)
	}
	if _, ok := t.allowed[name]; !ok {
		return fmt.Errorf("%w: %s", framework.ErrCommandNotAllowed, name)
	}
	for _, arg := range argv[1:] {
		for _, candidate := range pathCandidates(arg) {
			if _, err := t.sandbox.Resolve(candidate); err != nil {
				return err
			}
		}
	}
	return nil
}

// pathCandidates returns the parts of arg that name a path the sandbox must
// contain: the whole argument, or the value of a --flag=value pair.
func pathCandidates(arg string) []string {
	var out []string
	check := func(s string) {
		if filepath.IsAbs(s) || hasDotDot(s) {
			out = append(out, s)
		}
	}
	check(arg)
	if i := strings.IndexByte(arg, '='); i >= 0 {
		check(arg[i+1:])
	}
	return out
}

func hasDotDot(s string) bool {
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func (t *ShellTool) environment() []string {
	env := []string{
		"HOME=" + t.sandbox.Root(),
		"LANG=C.UTF-8",
		"GIT_TERMINAL_PROMPT=0",
		"PYTHONDONTWRITEBYTECODE=1",
		"NO_COLOR=1",
	}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}

// SplitCommandLine tokenizes a command line the way a POSIX shell splits
// words, honoring single quotes, double quotes and backslash escapes, but
// without any expansion or operator handling.
func SplitCommandLine(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inToken = true
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated %c quote", framework.ErrInvalidArgument, quote)
	}
	if escaped {
		return nil, fmt.Errorf("%w: trailing backslash", framework.ErrInvalidArgument)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
