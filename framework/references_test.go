package framework

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceStoreBindAndResolve(t *testing.T) {
	store := NewReferenceStore()

	_, err := store.Resolve("step_1")
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	result := NewToolResult("hello", map[string]interface{}{"path": "a.txt"})
	require.NoError(t, store.Bind("step_1", result))

	first, err := store.Resolve("step_1")
	require.NoError(t, err)
	second, err := store.Resolve("step_1")
	require.NoError(t, err)
	assert.Same(t, first, second)

	err = store.Bind("step_1", NewToolResult("other", nil))
	assert.ErrorIs(t, err, ErrDuplicateBinding)
	assert.Equal(t, CategoryReference, CategoryOf(err))
	again, _ := store.Resolve("step_1")
	assert.Equal(t, "hello", again.Output())
}

func TestReferenceStoreKeysInStepOrder(t *testing.T) {
	store := NewReferenceStore()
	for _, n := range []int{10, 2, 1} {
		require.NoError(t, store.Bind(StepKey(n), NewToolResult(n, nil)))
	}
	assert.Equal(t, []string{"step_1", "step_2", "step_10"}, store.Keys())
}

func TestResolvePlaceholdersIn(t *testing.T) {
	store := NewReferenceStore()
	require.NoError(t, store.Bind("step_1", NewToolResult("{{step_2.output}}", map[string]interface{}{"path": "src"})))
	require.NoError(t, store.Bind("step_2", NewToolResult(42, nil)))

	out, err := store.ResolvePlaceholdersIn("dir={{ step_1.path }} out={{step_2.output}} raw={{step_1}}")
	require.NoError(t, err)
	// substituted text is not rescanned
	assert.Equal(t, "dir=src out=42 raw={{step_2.output}}", out)

	out, err = store.ResolvePlaceholdersIn("{{ project_name }} stays")
	require.NoError(t, err)
	assert.Equal(t, "{{ project_name }} stays", out)

	_, err = store.ResolvePlaceholdersIn("{{step_3.output}}")
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = store.ResolvePlaceholdersIn("{{step_x.output}}")
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = store.ResolvePlaceholdersIn("{{step_1.missing}}")
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	for _, typo := range []string{"{{step2.output}}", "{{steps_1.output}}", "{{Step_1.output}}", "{{ STEP.1 }}", "{{step_1output}}"} {
		out, err := store.ResolvePlaceholdersIn("content: " + typo)
		assert.ErrorIs(t, err, ErrUnresolvedReference, typo)
		assert.Empty(t, out, typo)
	}

	out, err = store.ResolvePlaceholdersIn("{{ stepper }} {{ stepwise }}x")
	require.NoError(t, err)
	assert.Equal(t, "{{ stepper }} {{ stepwise }}x", out)
}

func TestResolveArguments(t *testing.T) {
	store := NewReferenceStore()
	require.NoError(t, store.Bind("step_1", NewToolResult("print('hi')", map[string]interface{}{"entries": []string{"a", "b"}})))

	args := map[string]interface{}{
		"path":    "main.py",
		"content": "{{step_1.output}}",
		"typed":   Ref(1),
		"object":  map[string]interface{}{RefObjectKey: "step_1.entries"},
		"list":    []interface{}{"x", "{{step_1.output}}"},
		"count":   3,
	}
	resolved, err := store.ResolveArguments(args)
	require.NoError(t, err)

	want := map[string]interface{}{
		"path":    "main.py",
		"content": "print('hi')",
		"typed":   "print('hi')",
		"object":  []string{"a", "b"},
		"list":    []interface{}{"x", "print('hi')"},
		"count":   3,
	}
	if diff := cmp.Diff(want, resolved); diff != "" {
		t.Fatalf("resolved arguments mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "{{step_1.output}}", args["content"], "input must not be modified")
}

func TestScanReferences(t *testing.T) {
	refs, err := ScanReferences(map[string]interface{}{
		"a": "{{step_1.output}} and {{step_2.path}}",
		"b": map[string]interface{}{RefObjectKey: "step_3"},
		"c": []interface{}{"{{ name }}"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Reference{
		{Step: 1, Field: "output"},
		{Step: 2, Field: "path"},
		{Step: 3, Field: "output"},
	}, refs)

	_, err = ScanReferences(map[string]interface{}{"a": "{{step_0.output}}"})
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	refs, err = ScanReferences(map[string]interface{}{"content": "{{step2.output}}"})
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.Empty(t, refs)

	_, err = ScanReferences(map[string]interface{}{"a": map[string]interface{}{RefObjectKey: 5}})
	assert.ErrorIs(t, err, ErrUnresolvedReference)
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("{{ step_4 }}")
	require.NoError(t, err)
	assert.Equal(t, Reference{Step: 4, Field: OutputKey}, ref)
	assert.Equal(t, "{{step_4.output}}", ref.String())

	_, err = ParseReference("step_-1")
	assert.Error(t, err)
}
