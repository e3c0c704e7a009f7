package pattern

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/agentcore/framework"
)

func TestDecodePlanNumbersStepsByPosition(t *testing.T) {
	plan, err := DecodePlan(`{"goal": " g ", "steps": [
		{"id": 7, "tool": "a", "arguments": {"x": 1}},
		{"id": 3, "tool": "b", "params": {"y": "{{step_1.output}}"}},
		{"tool": "c"}
	]}`, nil)
	require.NoError(t, err)
	want := &framework.Plan{
		Goal: "g",
		Steps: []framework.PlanStep{
			{ID: 1, Tool: "a", Arguments: map[string]interface{}{"x": float64(1)}},
			{ID: 2, Tool: "b", Arguments: map[string]interface{}{"y": "{{step_1.output}}"}},
			{ID: 3, Tool: "c", Arguments: map[string]interface{}{}},
		},
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePlanErrors(t *testing.T) {
	_, err := DecodePlan(`{"steps": [{"description": "no tool"}]}`, nil)
	assert.ErrorIs(t, err, framework.ErrMalformedResponse)

	_, err = DecodePlan(`{"steps": [{"tool": "a", "arguments": {"p": {"$ref": "step_1"}}}]}`, nil)
	assert.ErrorIs(t, err, framework.ErrUnresolvedReference)

	for _, typo := range []string{"{{step2.output}}", "{{steps_1.output}}", "{{Step_1.output}}"} {
		_, err = DecodePlan(`{"steps": [{"tool": "a"}, {"tool": "b", "arguments": {"content": "`+typo+`"}}]}`, nil)
		assert.ErrorIs(t, err, framework.ErrUnresolvedReference, typo)
	}

	_, err = DecodePlan(`{"steps": "nope"}`, nil)
	assert.ErrorIs(t, err, framework.ErrMalformedResponse)
}

func TestDecodeDecision(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			name: "tool call",
			raw:  `Thought first. {"thought": "read", "tool": "file_read", "arguments": {"path": "a"}}`,
			want: Decision{Thought: "read", Tool: "file_read", Arguments: map[string]interface{}{"path": "a"}},
		},
		{
			name: "aliases and string arguments",
			raw:  `{"name": "file_list", "args": "{\"path\": \"src\"}"}`,
			want: Decision{Tool: "file_list", Arguments: map[string]interface{}{"path": "src"}},
		},
		{
			name: "final answer",
			raw:  `{"thought": "done", "tool": "none", "complete": true, "final_answer": "42"}`,
			want: Decision{Thought: "done", Arguments: map[string]interface{}{}, Complete: true, Answer: "42"},
		},
		{
			name: "answer defaults to thought",
			raw:  `{"thought": "all set", "complete": true}`,
			want: Decision{Thought: "all set", Arguments: map[string]interface{}{}, Complete: true, Answer: "all set"},
		},
		{
			name: "act then finish",
			raw:  `{"tool": "file_create", "arguments": {"path": "a"}, "complete": true, "answer": "ok"}`,
			want: Decision{Tool: "file_create", Arguments: map[string]interface{}{"path": "a"}, Complete: true, Answer: "ok"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeDecision(tc.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("decision mismatch (-want +got):\n%s", diff)
			}
		})
	}

	for _, raw := range []string{"no json here", `{"thought": "hmm"}`, `{"tool": "none"}`} {
		_, err := DecodeDecision(raw)
		assert.ErrorIs(t, err, framework.ErrMalformedResponse, raw)
	}
}

func TestDecodeToolCallResponse(t *testing.T) {
	d, err := DecodeToolCallResponse(&framework.LLMResponse{
		Text:      "checking",
		ToolCalls: []framework.ToolCall{{ID: "c1", Name: "file_read", Args: map[string]interface{}{"path": "a"}}},
	})
	require.NoError(t, err)
	assert.True(t, d.Native)
	assert.Equal(t, "c1", d.CallID)
	assert.Equal(t, "file_read", d.Tool)
	assert.Equal(t, "checking", d.Thought)

	d, err = DecodeToolCallResponse(&framework.LLMResponse{Text: `{"tool": "file_list", "arguments": {}}`})
	require.NoError(t, err)
	assert.False(t, d.Native)
	assert.Equal(t, "file_list", d.Tool)

	d, err = DecodeToolCallResponse(&framework.LLMResponse{Text: "All done."})
	require.NoError(t, err)
	assert.True(t, d.Complete)
	assert.Equal(t, "All done.", d.Answer)

	_, err = DecodeToolCallResponse(&framework.LLMResponse{})
	assert.ErrorIs(t, err, framework.ErrMalformedResponse)
	_, err = DecodeToolCallResponse(nil)
	assert.ErrorIs(t, err, framework.ErrMalformedResponse)
}
