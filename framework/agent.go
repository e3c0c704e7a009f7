package framework

import (
	"context"
	"encoding/json"
	"time"
)

// Task encapsulates the information sent to an agent: the immutable
// instruction plus optional structured constraints.
type Task struct {
	ID          string            `json:"id"`
	Instruction string            `json:"instruction"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// NewTask builds a task; the constraints map is copied so later changes by the
// caller do not leak into a running task.
func NewTask(instruction string, constraints map[string]string) *Task {
	task := &Task{Instruction: instruction}
	if len(constraints) > 0 {
		task.Constraints = make(map[string]string, len(constraints))
		for k, v := range constraints {
			task.Constraints[k] = v
		}
	}
	return task
}

// ToolInvocation is a tool name plus bound arguments. Arguments may still
// contain placeholders or typed references until the executor resolves them.
type ToolInvocation struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Plan encapsulates the output of the single upfront planning call. Once
// decoded it is never modified.
type Plan struct {
	Goal  string     `json:"goal"`
	Steps []PlanStep `json:"steps"`
}

// PlanStep describes a single actionable step pointing at a registered tool.
type PlanStep struct {
	ID          int                    `json:"id"`
	Description string                 `json:"description,omitempty"`
	Tool        string                 `json:"tool"`
	Arguments   map[string]interface{} `json:"arguments"`
}

// Invocation returns the step as a tool invocation.
func (s PlanStep) Invocation() ToolInvocation {
	return ToolInvocation{Tool: s.Tool, Arguments: s.Arguments}
}

// RunStatus is the terminal status reported in AgentResult.
type RunStatus string

const (
	StatusCompleted             RunStatus = "completed"
	StatusFailed                RunStatus = "failed"
	StatusMaxIterationsExceeded RunStatus = "max_iterations_exceeded"
	StatusCancelled             RunStatus = "cancelled"
)

// TraceEntry records one tool invocation in invocation order.
type TraceEntry struct {
	Index     int                    `json:"index"`
	Thought   string                 `json:"thought,omitempty"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    *ToolResult            `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Category  ErrorCategory          `json:"category,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Duration  time.Duration          `json:"-"`
}

// Succeeded reports whether the invocation produced a successful result.
func (e TraceEntry) Succeeded() bool {
	return e.Error == "" && e.Result != nil && e.Result.Success
}

// MarshalJSON encodes the duration in milliseconds.
func (e TraceEntry) MarshalJSON() ([]byte, error) {
	type alias TraceEntry
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias(e), e.Duration.Milliseconds()})
}

// UnmarshalJSON mirrors MarshalJSON.
func (e *TraceEntry) UnmarshalJSON(data []byte) error {
	type alias TraceEntry
	var aux struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = TraceEntry(aux.alias)
	e.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	return nil
}

// AgentResult is the uniform outcome of a run under either strategy.
type AgentResult struct {
	RunID       string        `json:"run_id"`
	Strategy    string        `json:"strategy"`
	Task        *Task         `json:"task"`
	Status      RunStatus     `json:"status"`
	Category    ErrorCategory `json:"failure_category,omitempty"`
	Error       string        `json:"error,omitempty"`
	Transitions []string      `json:"transitions"`
	Iterations  int           `json:"iterations"`
	Plan        *Plan         `json:"plan,omitempty"`
	Trace       []TraceEntry  `json:"trace"`
	FinalAnswer string        `json:"final_answer,omitempty"`
	Summary     string        `json:"summary"`
	Audit       []AuditRecord `json:"audit,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Fail marks the result failed with err's category.
func (r *AgentResult) Fail(status RunStatus, err error) {
	r.Status = status
	if err != nil {
		r.Error = err.Error()
		r.Category = CategoryOf(err)
	}
}

// Strategy is one way of turning a task into tool invocations. The store
// belongs to a single run.
type Strategy interface {
	Name() string
	Run(ctx context.Context, task *Task, refs *ReferenceStore) (*AgentResult, error)
}
