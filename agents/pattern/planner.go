package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/framework"
)

// PlanExecutor is the chain-of-thought strategy: a single planning call
// produces the whole plan, which then runs strictly in order. There is no
// re-planning, no retry and no skipping; the first failing step ends the run.
type PlanExecutor struct {
	Runtime
}

// NewPlanExecutor builds the strategy. A non-zero shell exit fails the run
// unless rt.ExitPolicy says otherwise.
func NewPlanExecutor(rt Runtime) *PlanExecutor {
	return &PlanExecutor{Runtime: rt}
}

// Name identifies the strategy in results and configuration.
func (p *PlanExecutor) Name() string { return "cot" }

// Run plans and executes task. The returned result is never nil; the error is
// the cause of a non-completed run.
func (p *PlanExecutor) Run(ctx context.Context, task *framework.Task, refs *framework.ReferenceStore) (*framework.AgentResult, error) {
	if err := p.validate("plan executor"); err != nil {
		return nil, err
	}
	r := newRun(&p.Runtime, p.Name(), task)
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	plan, err := p.plan(ctx, r, task)
	if err != nil {
		if framework.CategoryOf(err) == framework.CategoryCancelled {
			return r.cancelled(ctx)
		}
		return r.finish(framework.StatusFailed, "failed", err)
	}
	r.result.Plan = plan
	r.transition("planned")
	r.logger.Debug("plan decoded", zap.Int("steps", len(plan.Steps)))

	r.transition("executing")
	dispatcher := p.dispatcher(framework.ExitPolicyFail)
	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		index := i + 1
		entry, err := dispatcher.Invoke(ctx, refs, framework.Call{
			RunID:      task.ID,
			Index:      index,
			Thought:    step.Description,
			Invocation: step.Invocation(),
		})
		r.record(entry)
		if err != nil {
			return r.finish(framework.StatusFailed, "failed", fmt.Errorf("step %d (%s): %w", index, step.Tool, err))
		}
		if err := refs.Bind(framework.StepKey(index), entry.Result); err != nil {
			return r.finish(framework.StatusFailed, "failed", err)
		}
	}
	if n := len(r.result.Trace); n > 0 {
		r.result.FinalAnswer = r.result.Trace[n-1].Result.Output()
	}
	return r.finish(framework.StatusCompleted, "completed", nil)
}

func (p *PlanExecutor) plan(ctx context.Context, r *run, task *framework.Task) (*framework.Plan, error) {
	opts := p.llmOptions()
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	if p.StructuredOutput {
		opts.Format = planFormat
	}
	r.result.Iterations = 1
	started := time.Now()
	resp, err := p.Model.Generate(ctx, p.buildPrompt(task), opts)
	if err != nil {
		err = backendError(ctx, err)
		r.llmCall("generate", started, err)
		return nil, err
	}
	r.llmCall("generate", started, nil)
	return DecodePlan(resp.Text, p.Tools)
}

// buildPrompt asks for the whole plan at once. Later steps can only consume
// earlier results through {{step_N.output}} placeholders.
func (p *PlanExecutor) buildPrompt(task *framework.Task) string {
	var b strings.Builder
	b.WriteString("You are a planning agent. Break the task into an ordered list of tool calls.\n")
	b.WriteString(fmt.Sprintf("Task: %s\n", task.Instruction))
	if len(task.Constraints) > 0 {
		keys := make([]string, 0, len(task.Constraints))
		for k := range task.Constraints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Constraints:\n")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("  - %s: %s\n", k, task.Constraints[k]))
		}
	}
	b.WriteString("\n")
	b.WriteString(framework.RenderToolsToPrompt(p.Tools.DescribeAll()))
	b.WriteString(`
Return only a JSON object:
{"goal": "...", "steps": [{"description": "...", "tool": "tool_name", "arguments": {...}}]}
Steps run in order and are numbered from 1. A step may use the output of an
earlier step with {{step_N.output}}; it must not reference itself or a later step.
`)
	return b.String()
}
