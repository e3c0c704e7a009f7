package pattern

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/tools"
)

type stubLLM struct {
	responses      []*framework.LLMResponse
	err            error
	idx            int
	generateCalls  int
	withToolsCalls int
	prompts        []string
	messages       [][]framework.Message
	options        []framework.LLMOptions
}

// Generate returns the next queued LLM response for deterministic tests.
func (s *stubLLM) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	s.generateCalls++
	s.prompts = append(s.prompts, prompt)
	s.options = append(s.options, *options)
	return s.nextResponse()
}

// ChatWithTools returns the next queued response and keeps a copy of the
// conversation it was shown.
func (s *stubLLM) ChatWithTools(ctx context.Context, messages []framework.Message, schemas []framework.ToolSchema, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	s.withToolsCalls++
	s.options = append(s.options, *options)
	s.messages = append(s.messages, append([]framework.Message(nil), messages...))
	return s.nextResponse()
}

// nextResponse pops the next canned response or returns an error when empty.
func (s *stubLLM) nextResponse() (*framework.LLMResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.idx >= len(s.responses) {
		return nil, errors.New("no response")
	}
	resp := s.responses[s.idx]
	s.idx++
	return resp, nil
}

func textResponses(texts ...string) []*framework.LLMResponse {
	out := make([]*framework.LLMResponse, 0, len(texts))
	for _, text := range texts {
		out = append(out, &framework.LLMResponse{Text: text})
	}
	return out
}

// workspace builds the default tool set over a fresh sandbox.
func workspace(t *testing.T, shell bool) (*framework.ToolRegistry, string) {
	t.Helper()
	sb, err := framework.NewSandbox(t.TempDir())
	require.NoError(t, err)
	templates, err := tools.LoadTemplateSet("")
	require.NoError(t, err)
	registry, err := tools.NewRegistry(tools.Options{Sandbox: sb, Templates: templates, EnableShell: shell})
	require.NoError(t, err)
	return registry, sb.Root()
}

func TestReasonActLoopRecoversFromMissingFile(t *testing.T) {
	registry, root := workspace(t, false)
	llm := &stubLLM{responses: textResponses(
		`{"thought": "look first", "tool": "file_read", "arguments": {"path": "notes.txt"}}`,
		`{"thought": "it is missing, create it", "tool": "file_create", "arguments": {"path": "notes.txt", "content": "hello"}, "complete": true, "answer": "created notes.txt"}`,
	)}
	rec := &framework.RecordingTelemetry{}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry, Telemetry: rec}, 5, false)

	result, err := loop.Run(context.Background(), framework.NewTask("make sure notes.txt exists", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	assert.Equal(t, framework.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, llm.generateCalls)
	assert.Equal(t, "created notes.txt", result.FinalAnswer)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "file_read", result.Trace[0].Tool)
	assert.Equal(t, framework.CategoryResource, result.Trace[0].Category)
	assert.Equal(t, framework.ErrNotFound.Error(), result.Trace[0].Result.Kind)
	assert.True(t, result.Trace[1].Succeeded())
	assert.Contains(t, llm.prompts[1], `"category":"resource"`)

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, []string{"idle", "thinking", "acting", "observing", "thinking", "acting", "observing", "done"}, result.Transitions)
	assert.Len(t, rec.OfType(framework.EventLLMCall), 2)
	assert.Len(t, rec.OfType(framework.EventToolResult), 2)
}

func TestReasonActLoopZeroBudgetMakesNoCalls(t *testing.T) {
	registry, _ := workspace(t, false)
	llm := &stubLLM{}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry}, 0, false)

	result, err := loop.Run(context.Background(), framework.NewTask("anything", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrMaxIterationsExceeded)
	assert.Equal(t, framework.StatusMaxIterationsExceeded, result.Status)
	assert.Equal(t, framework.CategoryIterationBudget, result.Category)
	assert.Zero(t, llm.generateCalls)
	assert.Empty(t, result.Trace)
}

func TestReasonActLoopStopsAtBudget(t *testing.T) {
	registry, _ := workspace(t, false)
	llm := &stubLLM{responses: textResponses(
		`{"tool": "file_list", "arguments": {}}`,
		`{"tool": "file_list", "arguments": {}}`,
		`{"tool": "file_list", "arguments": {}}`,
	)}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry}, 2, false)

	result, err := loop.Run(context.Background(), framework.NewTask("loop forever", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrMaxIterationsExceeded)
	assert.Equal(t, framework.StatusMaxIterationsExceeded, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, llm.generateCalls)
	assert.Len(t, result.Trace, 2)
}

func TestReasonActLoopNativeToolCalling(t *testing.T) {
	registry, root := workspace(t, false)
	llm := &stubLLM{responses: []*framework.LLMResponse{
		{ToolCalls: []framework.ToolCall{{ID: "call_1", Name: "file_mkdir", Args: map[string]interface{}{"path": "src"}}}},
		{Text: "Created src."},
	}}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry}, 3, true)

	result, err := loop.Run(context.Background(), framework.NewTask("create src", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	assert.Equal(t, framework.StatusCompleted, result.Status)
	assert.Equal(t, "Created src.", result.FinalAnswer)
	assert.Equal(t, 2, llm.withToolsCalls)
	assert.Zero(t, llm.generateCalls)
	assert.DirExists(t, filepath.Join(root, "src"))

	second := llm.messages[1]
	require.Len(t, second, 4)
	assert.Equal(t, "assistant", second[2].Role)
	last := second[3]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "file_mkdir", last.Name)
}

func TestReasonActLoopPassesOutputsBetweenSteps(t *testing.T) {
	registry, root := workspace(t, false)
	llm := &stubLLM{responses: textResponses(
		`{"tool": "code_generate", "arguments": {"template": "python_main", "variables": {"project_name": "demo", "greeting": "hi"}}}`,
		`{"tool": "file_write", "arguments": {"path": "main.py", "content": "{{step_1.output}}"}, "complete": true}`,
	)}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry}, 5, false)

	result, err := loop.Run(context.Background(), framework.NewTask("write main.py", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	generated := result.Trace[0].Result.Output()
	data, err := os.ReadFile(filepath.Join(root, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, generated, string(data))
	assert.Equal(t, generated, result.Trace[1].Arguments["content"])
}

func TestReasonActLoopUnresolvedReferenceIsFatal(t *testing.T) {
	registry, _ := workspace(t, false)
	llm := &stubLLM{responses: textResponses(
		`{"tool": "file_write", "arguments": {"path": "a.txt", "content": "{{step_3.output}}"}}`,
		`{"complete": true, "answer": "should not be asked"}`,
	)}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry}, 5, false)

	result, err := loop.Run(context.Background(), framework.NewTask("write", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrUnresolvedReference)
	assert.Equal(t, framework.StatusFailed, result.Status)
	assert.Equal(t, framework.CategoryReference, result.Category)
	assert.Equal(t, 1, llm.generateCalls)
	assert.Len(t, result.Trace, 1)
}

func TestReasonActLoopSandboxViolationIsObserved(t *testing.T) {
	registry, _ := workspace(t, false)
	audit := framework.NewInMemoryAuditLogger(8)
	llm := &stubLLM{responses: textResponses(
		`{"tool": "file_read", "arguments": {"path": "../../etc/passwd"}}`,
		`{"complete": true, "answer": "refused"}`,
	)}
	loop := NewReasonActLoop(Runtime{Model: llm, Tools: registry, Audit: audit}, 5, false)

	result, err := loop.Run(context.Background(), framework.NewTask("read passwd", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	assert.Equal(t, framework.StatusCompleted, result.Status)
	assert.Equal(t, framework.CategorySandbox, result.Trace[0].Category)
	records, _ := audit.Query(context.Background(), framework.AuditQuery{Action: framework.AuditActionFileAccess})
	require.Len(t, records, 1)
	assert.Equal(t, "denied", records[0].Result)
}

func TestReasonActLoopFailures(t *testing.T) {
	registry, _ := workspace(t, false)

	malformed := &stubLLM{responses: textResponses("I think I am done here.")}
	result, err := NewReasonActLoop(Runtime{Model: malformed, Tools: registry}, 3, false).
		Run(context.Background(), framework.NewTask("x", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrMalformedResponse)
	assert.Equal(t, framework.StatusFailed, result.Status)
	assert.Equal(t, framework.CategorySchema, result.Category)

	down := &stubLLM{err: errors.New("connection refused")}
	result, err = NewReasonActLoop(Runtime{Model: down, Tools: registry}, 3, false).
		Run(context.Background(), framework.NewTask("x", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrBackend)
	assert.Equal(t, framework.CategoryBackend, result.Category)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idle := &stubLLM{}
	result, err = NewReasonActLoop(Runtime{Model: idle, Tools: registry}, 3, false).
		Run(ctx, framework.NewTask("x", nil), framework.NewReferenceStore())
	assert.ErrorIs(t, err, framework.ErrCancelled)
	assert.Equal(t, framework.StatusCancelled, result.Status)
	assert.Zero(t, idle.generateCalls)
}

func TestReasonActLoopStructuredOutput(t *testing.T) {
	registry, _ := workspace(t, false)

	text := &stubLLM{responses: textResponses(`{"thought": "nothing to do", "complete": true}`)}
	_, err := NewReasonActLoop(Runtime{Model: text, Tools: registry, StructuredOutput: true}, 2, false).
		Run(context.Background(), framework.NewTask("x", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	require.Len(t, text.options, 1)
	assert.JSONEq(t, string(decisionFormat), string(text.options[0].Format))

	native := &stubLLM{responses: []*framework.LLMResponse{{Text: "Nothing to do."}}}
	_, err = NewReasonActLoop(Runtime{Model: native, Tools: registry, StructuredOutput: true}, 2, true).
		Run(context.Background(), framework.NewTask("x", nil), framework.NewReferenceStore())
	require.NoError(t, err)
	require.Len(t, native.options, 1)
	assert.Empty(t, native.options[0].Format, "native tool calls are not schema constrained")
}
