package framework

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExitCodePolicy decides whether a non-zero shell exit fails the step.
type ExitCodePolicy string

const (
	// ExitPolicyFail treats a non-zero exit code as a failed step.
	ExitPolicyFail ExitCodePolicy = "fail"
	// ExitPolicyObserve keeps the step successful and leaves the exit code
	// in the payload for the model to inspect.
	ExitPolicyObserve ExitCodePolicy = "observe"
)

// Valid reports whether p is a known policy.
func (p ExitCodePolicy) Valid() bool {
	return p == ExitPolicyFail || p == ExitPolicyObserve
}

// Call is one invocation request as seen by the dispatcher.
type Call struct {
	RunID      string
	Index      int
	Thought    string
	Invocation ToolInvocation
}

// Dispatcher is the single path from a tool invocation to a trace entry:
// look the tool up, resolve references, validate arguments, execute, and
// classify the outcome. Both strategies share it so tool semantics cannot
// diverge between them.
type Dispatcher struct {
	Registry   *ToolRegistry
	ExitPolicy ExitCodePolicy
	Logger     *zap.Logger
	Audit      AuditLogger
	Telemetry  Telemetry
}

// Invoke runs call and returns its trace entry. The error is nil exactly when
// the step succeeded; otherwise its category tells the caller whether the run
// can continue. Tools run on a context detached from cancellation so an
// invocation that has started always completes.
func (d *Dispatcher) Invoke(ctx context.Context, refs *ReferenceStore, call Call) (TraceEntry, error) {
	entry := TraceEntry{
		Index:     call.Index,
		Thought:   call.Thought,
		Tool:      call.Invocation.Tool,
		Arguments: call.Invocation.Arguments,
		StartedAt: time.Now().UTC(),
	}
	if entry.Arguments == nil {
		entry.Arguments = map[string]interface{}{}
	}
	fail := func(err error) (TraceEntry, error) {
		entry.Error = err.Error()
		entry.Category = CategoryOf(err)
		entry.Duration = time.Since(entry.StartedAt)
		d.emitResult(call, entry)
		return entry, err
	}

	if d.Registry == nil {
		return fail(fmt.Errorf("dispatcher has no registry"))
	}
	tool, err := d.Registry.Get(call.Invocation.Tool)
	if err != nil {
		return fail(err)
	}
	if refs == nil {
		refs = NewReferenceStore()
	}
	resolved, err := refs.ResolveArguments(entry.Arguments)
	if err != nil {
		return fail(err)
	}
	entry.Arguments = resolved
	args, err := ValidateArguments(tool, resolved)
	if err != nil {
		return fail(err)
	}

	EmitTo(d.Telemetry, Event{
		Type:     EventToolCall,
		RunID:    call.RunID,
		Step:     call.Index,
		Message:  tool.Name(),
		Metadata: map[string]interface{}{"arguments": args},
	})
	result, err := tool.Execute(context.WithoutCancel(ctx), args)
	if err != nil {
		if CategoryOf(err) == CategorySandbox {
			d.recordViolation(ctx, call, tool, err)
		}
		return fail(err)
	}
	if result == nil {
		return fail(fmt.Errorf("%s returned no result", tool.Name()))
	}
	entry.Result = result
	if !result.Success {
		return fail(&ToolFailureError{Tool: tool.Name(), Kind: result.Kind, Message: result.Error})
	}
	if code, ok := result.ExitCode(); ok && code != 0 && d.ExitPolicy == ExitPolicyFail {
		return fail(&ToolFailureError{
			Tool:    tool.Name(),
			Kind:    ErrNonZeroExit.Error(),
			Message: fmt.Sprintf("exit code %d", code),
		})
	}
	entry.Duration = time.Since(entry.StartedAt)
	d.emitResult(call, entry)
	return entry, nil
}

func (d *Dispatcher) emitResult(call Call, entry TraceEntry) {
	meta := map[string]interface{}{
		"success":     entry.Error == "",
		"duration_ms": entry.Duration.Milliseconds(),
	}
	if entry.Error != "" {
		meta["error"] = entry.Error
		meta["category"] = string(entry.Category)
	}
	EmitTo(d.Telemetry, Event{
		Type:     EventToolResult,
		RunID:    call.RunID,
		Step:     call.Index,
		Message:  entry.Tool,
		Metadata: meta,
	})
}

func (d *Dispatcher) recordViolation(ctx context.Context, call Call, tool Tool, err error) {
	if d.Logger != nil {
		d.Logger.Warn("sandbox violation",
			zap.String("run_id", call.RunID),
			zap.Int("step", call.Index),
			zap.String("tool", tool.Name()),
			zap.Error(err),
		)
	}
	EmitTo(d.Telemetry, Event{
		Type:     EventSecurity,
		RunID:    call.RunID,
		Step:     call.Index,
		Message:  err.Error(),
		Metadata: map[string]interface{}{"tool": tool.Name()},
	})
	if d.Audit == nil {
		return
	}
	action := AuditActionTool
	switch tool.Category() {
	case "file":
		action = AuditActionFileAccess
	case "shell":
		action = AuditActionExec
	}
	_ = d.Audit.Log(context.WithoutCancel(ctx), AuditRecord{
		RunID:    call.RunID,
		Action:   action,
		Tool:     tool.Name(),
		Kind:     KindOf(err),
		Result:   "denied",
		Metadata: map[string]interface{}{"error": err.Error(), "step": call.Index},
	})
}
