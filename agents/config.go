package agents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/agentcore/agents/pattern"
	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/tools"
)

// DefaultConfigFile is looked up in the working directory when no path is
// given.
const DefaultConfigFile = "agentcore.yaml"

// Strategy names accepted in configuration.
const (
	StrategyCoT   = "cot"
	StrategyReAct = "react"
)

// Config matches agentcore.yaml.
type Config struct {
	Strategy             string        `yaml:"strategy"`
	MaxIterations        int           `yaml:"max_iterations"`
	SandboxDir           string        `yaml:"sandbox_dir"`
	EnableShellExecution bool          `yaml:"enable_shell_execution"`
	ExitCodePolicy       string        `yaml:"exit_code_policy,omitempty"`
	Model                ModelConfig   `yaml:"model"`
	Shell                ShellConfig   `yaml:"shell"`
	Files                FilesConfig   `yaml:"files"`
	TemplatesFile        string        `yaml:"templates_file,omitempty"`
	Store                StoreConfig   `yaml:"store"`
	Logging              LoggingConfig `yaml:"logging"`
}

// ModelConfig selects and tunes the language model backend.
type ModelConfig struct {
	Name             string        `yaml:"name"`
	Provider         string        `yaml:"provider"`
	Endpoint         string        `yaml:"endpoint,omitempty"`
	Script           string        `yaml:"script,omitempty"`
	Temperature      float64       `yaml:"temperature,omitempty"`
	MaxTokens        int           `yaml:"max_tokens,omitempty"`
	ToolCalling      bool          `yaml:"tool_calling"`
	StructuredOutput bool          `yaml:"structured_output"` // JSON schema for text-protocol replies
	Timeout          time.Duration `yaml:"timeout,omitempty"`
}

// ShellConfig tunes shell_exec.
type ShellConfig struct {
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	Allow          []string      `yaml:"allow,omitempty"`
	MaxOutputBytes int           `yaml:"max_output_bytes,omitempty"`
}

// FilesConfig tunes the file tools.
type FilesConfig struct {
	AllowOverwrite bool `yaml:"allow_overwrite"`
}

// StoreConfig points at the run archive. An empty path disables archiving.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	EventsFile  string `yaml:"events_file,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists. Fields
// absent from a file keep these values; explicit zeros are honored.
func DefaultConfig() *Config {
	return &Config{
		Strategy:      StrategyReAct,
		MaxIterations: pattern.DefaultMaxIterations,
		SandboxDir:    "workspace",
		Model: ModelConfig{
			Name:             "codellama",
			Provider:         "ollama",
			Endpoint:         "http://localhost:11434",
			Timeout:          2 * time.Minute,
			StructuredOutput: true,
		},
		Shell: ShellConfig{
			Timeout:        framework.DefaultCommandTimeout,
			MaxOutputBytes: 64 << 10,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads path (DefaultConfigFile when empty), loads a .env file
// sitting next to it, then applies AGENTCORE_* environment overrides. A
// missing file yields the defaults. Relative paths inside the file are taken
// from the file's directory.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	cfg := DefaultConfig()
	dir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.SandboxDir = expandPath(cfg.SandboxDir, dir)
		cfg.TemplatesFile = expandPath(cfg.TemplatesFile, dir)
		cfg.Store.Path = expandPath(cfg.Store.Path, dir)
		cfg.Logging.EventsFile = expandPath(cfg.Logging.EventsFile, dir)
		cfg.Model.Script = expandPath(cfg.Model.Script, dir)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the config to disk.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from AGENTCORE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AGENTCORE_MODEL"); ok && v != "" {
		c.Model.Name = v
	}
	if v, ok := lookup("AGENTCORE_ENDPOINT"); ok && v != "" {
		c.Model.Endpoint = v
	}
	if v, ok := lookup("AGENTCORE_STRATEGY"); ok && v != "" {
		c.Strategy = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("AGENTCORE_SANDBOX_DIR"); ok && v != "" {
		c.SandboxDir = v
	}
	if v, ok := lookup("AGENTCORE_MAX_ITERATIONS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AGENTCORE_MAX_ITERATIONS: %w", err)
		}
		c.MaxIterations = n
	}
	if v, ok := lookup("AGENTCORE_ENABLE_SHELL"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("AGENTCORE_ENABLE_SHELL: %w", err)
		}
		c.EnableShellExecution = enabled
	}
	return nil
}

// Validate rejects settings the agents cannot run with.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyCoT, StrategyReAct:
	default:
		return fmt.Errorf("unknown strategy %q (want %s or %s)", c.Strategy, StrategyCoT, StrategyReAct)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations)
	}
	if c.ExitCodePolicy != "" && !framework.ExitCodePolicy(c.ExitCodePolicy).Valid() {
		return fmt.Errorf("unknown exit_code_policy %q (want fail or observe)", c.ExitCodePolicy)
	}
	if strings.TrimSpace(c.SandboxDir) == "" {
		return errors.New("sandbox_dir is required")
	}
	switch c.Model.Provider {
	case "", "ollama":
	case "scripted":
		if c.Model.Script == "" {
			return errors.New("model.script is required for the scripted provider")
		}
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Shell.Timeout < 0 {
		return errors.New("shell.timeout must not be negative")
	}
	if c.Shell.MaxOutputBytes < 0 {
		return errors.New("shell.max_output_bytes must not be negative")
	}
	for _, name := range c.Shell.Allow {
		if !contains(tools.DefaultAllowedCommands, name) {
			return fmt.Errorf("shell.allow: %s is not in the built-in allow-list", name)
		}
	}
	return nil
}

// LLMOptions maps the model section onto per-call options.
func (c *Config) LLMOptions() framework.LLMOptions {
	return framework.LLMOptions{
		Model:       c.Model.Name,
		Temperature: c.Model.Temperature,
		MaxTokens:   c.Model.MaxTokens,
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// expandPath resolves ~ and relative paths against base while leaving
// already absolute entries untouched.
func expandPath(path, base string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
