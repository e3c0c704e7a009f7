package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/agents/pattern"
	"github.com/lexcodex/agentcore/framework"
)

// RunRecorder archives finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, result *framework.AgentResult) error
}

// Options wires an Agent.
type Options struct {
	Strategy      string
	Model         framework.LanguageModel
	Tools         *framework.ToolRegistry
	MaxIterations int
	ToolCalling   bool
	Structured    bool
	ExitPolicy    framework.ExitCodePolicy
	LLMOptions    framework.LLMOptions
	Logger        *zap.Logger
	Telemetry     framework.Telemetry
	Audit         framework.AuditLogger
	Recorder      RunRecorder
}

// Agent is the single entry point for running tasks. The strategy is fixed at
// construction and the registry is frozen.
type Agent struct {
	strategy  framework.Strategy
	tools     *framework.ToolRegistry
	logger    *zap.Logger
	telemetry framework.Telemetry
	audit     framework.AuditLogger
	recorder  RunRecorder
}

// New builds an Agent for opts.Strategy (react when empty).
func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("agent: model is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Tools.Freeze()
	rt := pattern.Runtime{
		Model:            opts.Model,
		Tools:            opts.Tools,
		Options:          opts.LLMOptions,
		ExitPolicy:       opts.ExitPolicy,
		StructuredOutput: opts.Structured,
		Logger:           logger,
		Telemetry:        opts.Telemetry,
		Audit:            opts.Audit,
	}
	var strategy framework.Strategy
	switch strings.ToLower(strings.TrimSpace(opts.Strategy)) {
	case StrategyCoT:
		strategy = pattern.NewPlanExecutor(rt)
	case StrategyReAct, "":
		strategy = pattern.NewReasonActLoop(rt, opts.MaxIterations, opts.ToolCalling)
	default:
		return nil, fmt.Errorf("agent: unknown strategy %q", opts.Strategy)
	}
	return &Agent{
		strategy:  strategy,
		tools:     opts.Tools,
		logger:    logger,
		telemetry: opts.Telemetry,
		audit:     opts.Audit,
		recorder:  opts.Recorder,
	}, nil
}

// Strategy reports the strategy name.
func (a *Agent) Strategy() string { return a.strategy.Name() }

// Tools exposes the frozen registry.
func (a *Agent) Tools() *framework.ToolRegistry { return a.tools }

// Run executes task with a fresh reference store. The caller's task is not
// modified; the result carries a copy with the assigned run ID. The returned
// result is nil only when the agent could not start.
func (a *Agent) Run(ctx context.Context, task *framework.Task) (*framework.AgentResult, error) {
	if task == nil || strings.TrimSpace(task.Instruction) == "" {
		return nil, fmt.Errorf("%w: task instruction is empty", framework.ErrInvalidArgument)
	}
	run := *task
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if task.Constraints != nil {
		run.Constraints = make(map[string]string, len(task.Constraints))
		for k, v := range task.Constraints {
			run.Constraints[k] = v
		}
	}
	log := a.logger.With(zap.String("run_id", run.ID), zap.String("strategy", a.strategy.Name()))
	log.Info("run started", zap.String("instruction", framework.Clip(run.Instruction, 200)))
	framework.EmitTo(a.telemetry, framework.Event{
		Type:    framework.EventRunStart,
		RunID:   run.ID,
		Message: run.Instruction,
		Metadata: map[string]interface{}{
			"strategy": a.strategy.Name(),
		},
	})

	started := time.Now().UTC()
	result, err := a.strategy.Run(ctx, &run, framework.NewReferenceStore())
	if result == nil {
		return nil, err
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now().UTC()
	}
	result.Summary = Summarize(result)
	if a.audit != nil {
		records, auditErr := a.audit.Query(context.WithoutCancel(ctx), framework.AuditQuery{RunID: run.ID})
		if auditErr != nil {
			log.Warn("collect audit records", zap.Error(auditErr))
		}
		result.Audit = records
	}

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Int("steps", len(result.Trace)),
		zap.Int("denied", len(result.Audit)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	}
	if err != nil {
		log.Warn("run finished", append(fields, zap.Error(err))...)
	} else {
		log.Info("run finished", fields...)
	}
	framework.EmitTo(a.telemetry, framework.Event{
		Type:    framework.EventRunFinish,
		RunID:   run.ID,
		Message: string(result.Status),
		Metadata: map[string]interface{}{
			"iterations": result.Iterations,
			"steps":      len(result.Trace),
			"category":   string(result.Category),
		},
	})

	if a.recorder != nil {
		if saveErr := a.recorder.SaveRun(context.WithoutCancel(ctx), result); saveErr != nil {
			log.Error("archive run", zap.Error(saveErr))
		}
	}
	return result, err
}

// Summarize renders a one-line description of a result.
func Summarize(result *framework.AgentResult) string {
	if result == nil {
		return ""
	}
	failed := 0
	for _, entry := range result.Trace {
		if !entry.Succeeded() {
			failed++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s run %s after %d step(s)", result.Strategy, result.Status, len(result.Trace))
	if failed > 0 {
		fmt.Fprintf(&b, ", %d failed", failed)
	}
	if result.Iterations > 0 {
		fmt.Fprintf(&b, ", %d model call(s)", result.Iterations)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, ": %s", result.Error)
	}
	return b.String()
}
