package agents

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/llm"
	"github.com/lexcodex/agentcore/persistence"
	"github.com/lexcodex/agentcore/tools"
)

// Environment holds the collaborators shared by every agent built from one
// configuration. Agents built from it differ only in their sandbox root.
type Environment struct {
	Config    *Config
	Logger    *zap.Logger
	Model     framework.LanguageModel
	Templates *tools.TemplateSet
	Telemetry framework.Telemetry
	Audit     *framework.InMemoryAuditLogger
	Store     *persistence.RunStore

	closers []io.Closer
}

// Bootstrap resolves cfg into live collaborators. Callers must Close the
// environment.
func Bootstrap(cfg *Config, logger *zap.Logger) (*Environment, error) {
	if cfg == nil {
		return nil, errors.New("config missing")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	env := &Environment{
		Config: cfg,
		Logger: logger,
		Audit:  framework.NewInMemoryAuditLogger(1024),
	}

	templates, err := tools.LoadTemplateSet(cfg.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	env.Templates = templates

	sinks := []framework.Telemetry{framework.ZapTelemetry{Logger: logger.Named("telemetry")}}
	if cfg.Logging.EventsFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.EventsFile), 0o755); err != nil {
			return nil, fmt.Errorf("events file: %w", err)
		}
		file, err := framework.NewJSONFileTelemetry(cfg.Logging.EventsFile)
		if err != nil {
			return nil, fmt.Errorf("events file: %w", err)
		}
		env.closers = append(env.closers, file)
		sinks = append(sinks, file)
	}
	env.Telemetry = framework.MultiplexTelemetry{Sinks: sinks}

	model, err := newModel(cfg, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Model = llm.NewInstrumentedModel(model, env.Telemetry, cfg.Model.Timeout, cfg.Logging.Development)

	if cfg.Store.Path != "" {
		store, err := persistence.OpenRunStore(cfg.Store.Path)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("run store: %w", err)
		}
		env.Store = store
		env.closers = append(env.closers, store)
	}
	return env, nil
}

func newModel(cfg *Config, logger *zap.Logger) (framework.LanguageModel, error) {
	switch cfg.Model.Provider {
	case "scripted":
		return llm.LoadScript(cfg.Model.Script)
	default:
		client := llm.NewClient(cfg.Model.Endpoint, cfg.Model.Name, cfg.Model.Timeout)
		client.Logger = logger.Named("ollama")
		return client, nil
	}
}

// Agent builds an agent confined to sandboxDir, creating it when missing.
// An empty sandboxDir uses the configured one.
func (e *Environment) Agent(sandboxDir string) (*Agent, error) {
	return e.AgentFor(sandboxDir, "")
}

// AgentFor is Agent with a strategy override; an empty strategy keeps the
// configured one.
func (e *Environment) AgentFor(sandboxDir, strategy string) (*Agent, error) {
	if strategy == "" {
		strategy = e.Config.Strategy
	}
	if sandboxDir == "" {
		sandboxDir = e.Config.SandboxDir
	}
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	sb, err := framework.NewSandbox(sandboxDir)
	if err != nil {
		return nil, err
	}
	cfg := e.Config
	registry, err := tools.NewRegistry(tools.Options{
		Sandbox:        sb,
		Templates:      e.Templates,
		AllowOverwrite: cfg.Files.AllowOverwrite,
		EnableShell:    cfg.EnableShellExecution,
		Shell: tools.ShellOptions{
			Allow:          cfg.Shell.Allow,
			Timeout:        cfg.Shell.Timeout,
			MaxOutputBytes: cfg.Shell.MaxOutputBytes,
		},
	})
	if err != nil {
		return nil, err
	}
	opts := Options{
		Strategy:      strategy,
		Model:         e.Model,
		Tools:         registry,
		MaxIterations: cfg.MaxIterations,
		ToolCalling:   cfg.Model.ToolCalling,
		Structured:    cfg.Model.StructuredOutput,
		ExitPolicy:    framework.ExitCodePolicy(cfg.ExitCodePolicy),
		LLMOptions:    cfg.LLMOptions(),
		Logger:        e.Logger,
		Telemetry:     e.Telemetry,
		Audit:         e.Audit,
	}
	if e.Store != nil {
		opts.Recorder = e.Store
	}
	return New(opts)
}

// Close releases files and database handles.
func (e *Environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
