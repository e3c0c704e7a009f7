package pattern

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/framework"
)

// Runtime bundles the collaborators both strategies share. With
// StructuredOutput set, text-protocol calls carry a JSON schema so the backend
// constrains plans and decisions to their expected shape.
type Runtime struct {
	Model            framework.LanguageModel
	Tools            *framework.ToolRegistry
	Options          framework.LLMOptions
	ExitPolicy       framework.ExitCodePolicy
	StructuredOutput bool
	Logger           *zap.Logger
	Telemetry        framework.Telemetry
	Audit            framework.AuditLogger
}

func (rt *Runtime) logger() *zap.Logger {
	if rt.Logger == nil {
		return zap.NewNop()
	}
	return rt.Logger
}

func (rt *Runtime) dispatcher(defaultPolicy framework.ExitCodePolicy) *framework.Dispatcher {
	policy := rt.ExitPolicy
	if !policy.Valid() {
		policy = defaultPolicy
	}
	return &framework.Dispatcher{
		Registry:   rt.Tools,
		ExitPolicy: policy,
		Logger:     rt.Logger,
		Audit:      rt.Audit,
		Telemetry:  rt.Telemetry,
	}
}

func (rt *Runtime) validate(name string) error {
	if rt.Model == nil {
		return fmt.Errorf("%s: missing model", name)
	}
	if rt.Tools == nil {
		return fmt.Errorf("%s: missing tool registry", name)
	}
	return nil
}

// llmOptions returns a copy so callers can tweak per-call fields.
func (rt *Runtime) llmOptions() *framework.LLMOptions {
	opts := rt.Options
	return &opts
}

// run tracks the state of one execution and mirrors every change to
// telemetry.
type run struct {
	result    *framework.AgentResult
	telemetry framework.Telemetry
	logger    *zap.Logger
}

func newRun(rt *Runtime, strategy string, task *framework.Task) *run {
	return &run{
		result: &framework.AgentResult{
			RunID:       task.ID,
			Strategy:    strategy,
			Task:        task,
			Transitions: []string{},
			Trace:       []framework.TraceEntry{},
			StartedAt:   time.Now().UTC(),
		},
		telemetry: rt.Telemetry,
		logger:    rt.logger().With(zap.String("run_id", task.ID), zap.String("strategy", strategy)),
	}
}

func (r *run) transition(state string) {
	r.result.Transitions = append(r.result.Transitions, state)
	r.logger.Debug("state change", zap.String("state", state))
	framework.EmitTo(r.telemetry, framework.Event{
		Type:    framework.EventStateChange,
		RunID:   r.result.RunID,
		Message: state,
	})
}

func (r *run) record(entry framework.TraceEntry) {
	r.result.Trace = append(r.result.Trace, entry)
}

func (r *run) llmCall(kind string, started time.Time, err error) {
	meta := map[string]interface{}{
		"kind":        kind,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	framework.EmitTo(r.telemetry, framework.Event{
		Type:     framework.EventLLMCall,
		RunID:    r.result.RunID,
		Message:  kind,
		Metadata: meta,
	})
}

// finish closes the run with the given terminal state. err is nil only for
// completed runs.
func (r *run) finish(status framework.RunStatus, state string, err error) (*framework.AgentResult, error) {
	r.transition(state)
	r.result.Status = status
	if err != nil {
		r.result.Fail(status, err)
		r.logger.Info("run ended", zap.String("status", string(status)), zap.Error(err))
	}
	r.result.FinishedAt = time.Now().UTC()
	return r.result, err
}

func (r *run) cancelled(ctx context.Context) (*framework.AgentResult, error) {
	return r.finish(framework.StatusCancelled, "cancelled", fmt.Errorf("%w: %v", framework.ErrCancelled, context.Cause(ctx)))
}

// backendError classifies a failed model call. A call aborted by the run's
// own cancellation counts as cancellation, anything else as a backend fault.
func backendError(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %v", framework.ErrCancelled, err)
	}
	return fmt.Errorf("%w: %v", framework.ErrBackend, err)
}
