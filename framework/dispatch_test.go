package framework

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newDispatcher(t *testing.T, tools ...Tool) (*Dispatcher, *RecordingTelemetry, *InMemoryAuditLogger) {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		require.NoError(t, registry.Register(tool))
	}
	registry.Freeze()
	rec := &RecordingTelemetry{}
	audit := NewInMemoryAuditLogger(16)
	return &Dispatcher{Registry: registry, ExitPolicy: ExitPolicyFail, Telemetry: rec, Audit: audit}, rec, audit
}

func TestDispatcherInvokesWithResolvedArguments(t *testing.T) {
	echo := &stubTool{name: "echo"}
	d, rec, _ := newDispatcher(t, echo)
	refs := NewReferenceStore()
	require.NoError(t, refs.Bind("step_1", NewToolResult("hi", nil)))

	entry, err := d.Invoke(context.Background(), refs, Call{
		RunID: "run-1",
		Index: 2,
		Invocation: ToolInvocation{
			Tool:      "echo",
			Arguments: map[string]interface{}{"value": "{{step_1.output}}!"},
		},
	})
	require.NoError(t, err)
	assert.True(t, entry.Succeeded())
	assert.Equal(t, "hi!", entry.Result.Output())
	assert.Equal(t, "hi!", entry.Arguments["value"], "trace records resolved arguments")
	assert.Equal(t, 1, echo.calls)

	assert.Len(t, rec.OfType(EventToolCall), 1)
	results := rec.OfType(EventToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Step)
	assert.Equal(t, true, results[0].Metadata["success"])
}

func TestDispatcherUnknownToolAndBadArguments(t *testing.T) {
	echo := &stubTool{name: "echo", params: []ToolParameter{{Name: "value", Type: "string", Required: true}}}
	d, _, _ := newDispatcher(t, echo)

	entry, err := d.Invoke(context.Background(), nil, Call{Index: 1, Invocation: ToolInvocation{Tool: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, CategorySchema, entry.Category)
	assert.NotEmpty(t, entry.Error)

	_, err = d.Invoke(context.Background(), nil, Call{Index: 1, Invocation: ToolInvocation{Tool: "echo"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, echo.calls)
}

func TestDispatcherUnresolvedReferenceNeverRunsTool(t *testing.T) {
	echo := &stubTool{name: "echo"}
	d, _, _ := newDispatcher(t, echo)
	entry, err := d.Invoke(context.Background(), NewReferenceStore(), Call{
		Index:      1,
		Invocation: ToolInvocation{Tool: "echo", Arguments: map[string]interface{}{"value": "{{step_5.output}}"}},
	})
	assert.ErrorIs(t, err, ErrUnresolvedReference)
	assert.Equal(t, CategoryReference, entry.Category)
	assert.Zero(t, echo.calls)
}

func TestDispatcherFailedResultCarriesKind(t *testing.T) {
	missing := &stubTool{name: "file_read", result: FailureResult(fmt.Errorf("%w: a.txt", ErrNotFound), nil)}
	d, _, _ := newDispatcher(t, missing)
	entry, err := d.Invoke(context.Background(), nil, Call{Index: 1, Invocation: ToolInvocation{Tool: "file_read"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CategoryResource, entry.Category)
	require.NotNil(t, entry.Result)
	assert.False(t, entry.Result.Success)
}

func TestDispatcherExitCodePolicy(t *testing.T) {
	shell := &stubTool{name: "shell_exec", result: NewToolResult("", map[string]interface{}{"exit_code": 1})}

	d, _, _ := newDispatcher(t, shell)
	_, err := d.Invoke(context.Background(), nil, Call{Index: 1, Invocation: ToolInvocation{Tool: "shell_exec"}})
	assert.ErrorIs(t, err, ErrNonZeroExit)

	d.ExitPolicy = ExitPolicyObserve
	entry, err := d.Invoke(context.Background(), nil, Call{Index: 2, Invocation: ToolInvocation{Tool: "shell_exec"}})
	require.NoError(t, err)
	code, _ := entry.Result.ExitCode()
	assert.Equal(t, 1, code)
}

func TestDispatcherRecordsSandboxViolations(t *testing.T) {
	escape := &stubTool{name: "file_write", err: fmt.Errorf("%w: ../x", ErrPathEscape)}
	d, rec, audit := newDispatcher(t, escape)
	core, logs := observer.New(zap.WarnLevel)
	d.Logger = zap.New(core)

	_, err := d.Invoke(context.Background(), nil, Call{RunID: "run-9", Index: 3, Invocation: ToolInvocation{Tool: "file_write"}})
	assert.ErrorIs(t, err, ErrPathEscape)

	assert.Equal(t, 1, logs.FilterMessage("sandbox violation").Len())
	assert.Len(t, rec.OfType(EventSecurity), 1)
	records, qerr := audit.Query(context.Background(), AuditQuery{RunID: "run-9"})
	require.NoError(t, qerr)
	require.Len(t, records, 1)
	assert.Equal(t, "denied", records[0].Result)
	assert.Equal(t, ErrPathEscape.Error(), records[0].Kind)
}

func TestDispatcherDetachesToolFromCancellation(t *testing.T) {
	echo := &stubTool{name: "echo"}
	d, _, _ := newDispatcher(t, echo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Invoke(ctx, nil, Call{Index: 1, Invocation: ToolInvocation{Tool: "echo", Arguments: map[string]interface{}{"value": "x"}}})
	require.NoError(t, err)
	assert.NoError(t, echo.ctxErr)
}
