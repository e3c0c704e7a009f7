package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/framework"
)

// DefaultMaxIterations bounds a ReAct run when the caller does not.
const DefaultMaxIterations = 10

// ReasonActLoop is the ReAct strategy: think, act, observe, repeat. Each
// thinking step is one model call and counts against MaxIterations. Tool
// failures are fed back as observations; only reference errors, malformed
// model output and backend failures end the run early.
type ReasonActLoop struct {
	Runtime
	// MaxIterations is honored as given; zero fails before any model call.
	MaxIterations int
	// ToolCalling selects native tool calling over the JSON text protocol.
	ToolCalling bool
}

// NewReasonActLoop builds the strategy. Non-zero shell exits are observed
// rather than fatal unless rt.ExitPolicy says otherwise.
func NewReasonActLoop(rt Runtime, maxIterations int, toolCalling bool) *ReasonActLoop {
	return &ReasonActLoop{Runtime: rt, MaxIterations: maxIterations, ToolCalling: toolCalling}
}

// Name identifies the strategy in results and configuration.
func (a *ReasonActLoop) Name() string { return "react" }

// step is one think/act/observe cycle kept for prompting.
type step struct {
	Thought     string
	Tool        string
	Arguments   map[string]interface{}
	Observation string
}

// Run drives the loop until the model declares completion or the budget is
// spent. The returned result is never nil; the error is the cause of a
// non-completed run.
func (a *ReasonActLoop) Run(ctx context.Context, task *framework.Task, refs *framework.ReferenceStore) (*framework.AgentResult, error) {
	if err := a.validate("react loop"); err != nil {
		return nil, err
	}
	r := newRun(&a.Runtime, a.Name(), task)
	r.transition("idle")
	if a.MaxIterations <= 0 {
		return r.finish(framework.StatusMaxIterationsExceeded, "failed",
			fmt.Errorf("%w: budget is %d", framework.ErrMaxIterationsExceeded, a.MaxIterations))
	}

	dispatcher := a.dispatcher(framework.ExitPolicyObserve)
	schemas := a.Tools.DescribeAll()
	var (
		history  []step
		messages []framework.Message
		index    int
	)
	if a.ToolCalling {
		messages = []framework.Message{
			{Role: "system", Content: a.buildSystemPrompt(schemas)},
			{Role: "user", Content: fmt.Sprintf("Task: %s", task.Instruction)},
		}
	}

	for iteration := 1; ; iteration++ {
		if iteration > a.MaxIterations {
			return r.finish(framework.StatusMaxIterationsExceeded, "failed",
				fmt.Errorf("%w: no answer after %d iterations", framework.ErrMaxIterationsExceeded, a.MaxIterations))
		}
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}

		r.transition("thinking")
		r.result.Iterations = iteration
		decision, resp, err := a.think(ctx, r, task, schemas, history, messages)
		if err != nil {
			if framework.CategoryOf(err) == framework.CategoryCancelled {
				return r.cancelled(ctx)
			}
			return r.finish(framework.StatusFailed, "failed", err)
		}
		r.logger.Debug("decision",
			zap.Int("iteration", iteration),
			zap.String("tool", decision.Tool),
			zap.Bool("complete", decision.Complete))
		if a.ToolCalling {
			messages = append(messages, framework.Message{
				Role:      "assistant",
				Content:   resp.Text,
				ToolCalls: resp.ToolCalls,
			})
		}

		if !decision.Acts() {
			r.result.FinalAnswer = decision.Answer
			return r.finish(framework.StatusCompleted, "done", nil)
		}

		r.transition("acting")
		index++
		entry, err := dispatcher.Invoke(ctx, refs, framework.Call{
			RunID:   task.ID,
			Index:   index,
			Thought: decision.Thought,
			Invocation: framework.ToolInvocation{
				Tool:      decision.Tool,
				Arguments: decision.Arguments,
			},
		})
		r.transition("observing")
		r.record(entry)
		if err != nil && framework.CategoryOf(err) == framework.CategoryReference {
			return r.finish(framework.StatusFailed, "failed", err)
		}
		if err == nil {
			if bindErr := refs.Bind(framework.StepKey(index), entry.Result); bindErr != nil {
				return r.finish(framework.StatusFailed, "failed", bindErr)
			}
		}
		observation := observe(index, entry)
		history = append(history, step{
			Thought:     decision.Thought,
			Tool:        decision.Tool,
			Arguments:   entry.Arguments,
			Observation: observation,
		})
		if a.ToolCalling {
			messages = append(messages, observationMessage(decision, observation))
		}
		if err == nil && decision.Complete {
			r.result.FinalAnswer = decision.Answer
			if r.result.FinalAnswer == "" {
				r.result.FinalAnswer = entry.Result.Output()
			}
			return r.finish(framework.StatusCompleted, "done", nil)
		}
	}
}

// think performs one model call and decodes the decision.
func (a *ReasonActLoop) think(ctx context.Context, r *run, task *framework.Task, schemas []framework.ToolSchema, history []step, messages []framework.Message) (Decision, *framework.LLMResponse, error) {
	opts := a.llmOptions()
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if a.StructuredOutput && !a.ToolCalling {
		opts.Format = decisionFormat
	}
	started := time.Now()
	var (
		resp *framework.LLMResponse
		err  error
		kind string
	)
	if a.ToolCalling {
		kind = "chat_with_tools"
		resp, err = a.Model.ChatWithTools(ctx, messages, schemas, opts)
	} else {
		kind = "generate"
		resp, err = a.Model.Generate(ctx, a.buildPrompt(task, schemas, history), opts)
	}
	if err != nil {
		err = backendError(ctx, err)
		r.llmCall(kind, started, err)
		return Decision{}, nil, err
	}
	r.llmCall(kind, started, nil)
	if resp == nil {
		return Decision{}, nil, fmt.Errorf("%w: empty response", framework.ErrMalformedResponse)
	}
	var decision Decision
	if a.ToolCalling {
		decision, err = DecodeToolCallResponse(resp)
	} else {
		decision, err = DecodeDecision(resp.Text)
	}
	return decision, resp, err
}

// buildPrompt returns the text-mode prompt with the full step history.
func (a *ReasonActLoop) buildPrompt(task *framework.Task, schemas []framework.ToolSchema, history []step) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are a ReAct agent tasked with %q.\n\n", task.Instruction))
	b.WriteString(framework.RenderToolsToPrompt(schemas))
	if len(history) > 0 {
		b.WriteString("\nPrevious steps:\n")
		for i, s := range history {
			args, _ := json.Marshal(s.Arguments)
			b.WriteString(fmt.Sprintf("step_%d\n  Thought: %s\n  Action: %s %s\n  Observation: %s\n", i+1, s.Thought, s.Tool, args, s.Observation))
		}
	}
	b.WriteString(`
Respond with a single JSON object:
{"thought": "...", "tool": "tool_name", "arguments": {...}}
to act, or {"thought": "...", "complete": true, "answer": "..."} when done.
You may combine a final action with "complete": true; the run then ends if that action succeeds.`)
	return b.String()
}

// buildSystemPrompt summarizes tool descriptions for the chat-based workflow.
func (a *ReasonActLoop) buildSystemPrompt(schemas []framework.ToolSchema) string {
	lines := make([]string, 0, len(schemas))
	for _, s := range schemas {
		lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	return fmt.Sprintf(`You are a ReAct agent. Think carefully, call tools when required, and finish with a concise summary.
Available tools:
%s
The output of the N-th tool call can be passed to later calls as {{step_N.output}}.
When you call a tool, wait for its response before continuing. When the work is complete, provide the final answer as plain text.`, strings.Join(lines, "\n"))
}

// observe renders the outcome of a step for the model.
func observe(index int, entry framework.TraceEntry) string {
	payload := map[string]interface{}{
		"step":    framework.StepKey(index),
		"success": entry.Error == "",
	}
	if entry.Result != nil && len(entry.Result.Data) > 0 {
		payload["data"] = entry.Result.Data
	}
	if entry.Error != "" {
		payload["error"] = entry.Error
		payload["category"] = string(entry.Category)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("success=%t error=%s", entry.Error == "", entry.Error)
	}
	return string(encoded)
}

// observationMessage answers a native tool call with a tool message, and a
// JSON-in-text decision with a user message.
func observationMessage(decision Decision, observation string) framework.Message {
	if decision.Native {
		return framework.Message{
			Role:       "tool",
			Name:       decision.Tool,
			ToolCallID: decision.CallID,
			Content:    observation,
		}
	}
	return framework.Message{Role: "user", Content: "Observation: " + observation}
}
