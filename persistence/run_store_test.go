package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/agentcore/framework"
)

func sampleResult(id string, started time.Time) *framework.AgentResult {
	return &framework.AgentResult{
		RunID:       id,
		Strategy:    "cot",
		Task:        &framework.Task{ID: id, Instruction: "scaffold " + id},
		Status:      framework.StatusFailed,
		Category:    framework.CategorySchema,
		Error:       "step 2 (code_generate): missing template variable",
		Transitions: []string{"planned", "executing", "failed"},
		Iterations:  1,
		Trace: []framework.TraceEntry{
			{
				Index:     1,
				Tool:      "file_mkdir",
				Arguments: map[string]interface{}{"path": "src"},
				Result:    framework.NewToolResult("src", map[string]interface{}{"path": "src"}),
				StartedAt: started,
				Duration:  3 * time.Millisecond,
			},
			{
				Index:     2,
				Tool:      "code_generate",
				Arguments: map[string]interface{}{"template": "python_main"},
				Error:     "missing template variable",
				Category:  framework.CategorySchema,
				StartedAt: started.Add(time.Millisecond),
			},
		},
		Audit: []framework.AuditRecord{{
			Timestamp: started.Add(2 * time.Millisecond),
			RunID:     id,
			Action:    framework.AuditActionFileAccess,
			Tool:      "file_read",
			Kind:      framework.ErrPathEscape.Error(),
			Result:    "denied",
			Metadata:  map[string]interface{}{"error": "path escapes sandbox", "step": 3},
		}},
		StartedAt:  started,
		FinishedAt: started.Add(10 * time.Millisecond),
	}
}

func openStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "db", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunStoreSaveAndLoad(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := sampleResult("run-1", started)
	require.NoError(t, store.SaveRun(ctx, result))

	loaded, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, result.Status, loaded.Status)
	assert.Equal(t, result.Category, loaded.Category)
	assert.Equal(t, result.Transitions, loaded.Transitions)
	assert.Equal(t, "scaffold run-1", loaded.Task.Instruction)
	assert.True(t, result.StartedAt.Equal(loaded.StartedAt))

	require.Len(t, loaded.Trace, 2)
	assert.Equal(t, "file_mkdir", loaded.Trace[0].Tool)
	assert.Equal(t, "src", loaded.Trace[0].Result.Output())
	assert.Equal(t, 3*time.Millisecond, loaded.Trace[0].Duration)
	assert.Equal(t, framework.CategorySchema, loaded.Trace[1].Category)
	assert.Nil(t, loaded.Trace[1].Result)

	require.Len(t, loaded.Audit, 1)
	assert.Equal(t, "file_read", loaded.Audit[0].Tool)
	assert.Equal(t, framework.AuditActionFileAccess, loaded.Audit[0].Action)
	assert.Equal(t, "path escapes sandbox", loaded.Audit[0].Metadata["error"])
	assert.True(t, started.Add(2*time.Millisecond).Equal(loaded.Audit[0].Timestamp))
}

func TestRunStoreQueryAudit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := sampleResult("run-1", base)
	second := sampleResult("run-2", base.Add(time.Hour))
	second.Audit[0].Action = framework.AuditActionExec
	second.Audit[0].Tool = "shell_exec"
	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))
	require.NoError(t, store.SaveRun(ctx, sampleResult("run-3", base.Add(2*time.Hour))))

	all, err := store.QueryAudit(ctx, framework.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-1", all[0].RunID)

	exec, err := store.QueryAudit(ctx, framework.AuditQuery{Action: framework.AuditActionExec})
	require.NoError(t, err)
	require.Len(t, exec, 1)
	assert.Equal(t, "run-2", exec[0].RunID)

	late, err := store.QueryAudit(ctx, framework.AuditQuery{Tool: "file_read", TimeStart: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, "run-3", late[0].RunID)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	none, err := store.QueryAudit(ctx, framework.AuditQuery{RunID: "run-1"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunStoreSaveReplacesTrace(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	result := sampleResult("run-1", time.Now().UTC())
	require.NoError(t, store.SaveRun(ctx, result))

	result.Trace = result.Trace[:1]
	result.Status = framework.StatusCompleted
	result.Category = framework.CategoryNone
	require.NoError(t, store.SaveRun(ctx, result))

	loaded, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, framework.StatusCompleted, loaded.Status)
	assert.Len(t, loaded.Trace, 1)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Steps)
	assert.Empty(t, runs[0].Category)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.SaveRun(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "mid", runs[1].ID)
	assert.Equal(t, "cot", runs[0].Strategy)
	assert.Equal(t, framework.StatusFailed, runs[0].Status)
	assert.Equal(t, "schema", runs[0].Category)
	assert.Equal(t, 2, runs[0].Steps)
	assert.True(t, base.Add(2*time.Hour).Equal(runs[0].StartedAt))

	all, err := store.ListRuns(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunStoreMissingAndDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.LoadRun(ctx, "nope")
	assert.ErrorIs(t, err, framework.ErrNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "nope"), framework.ErrNotFound)

	require.NoError(t, store.SaveRun(ctx, sampleResult("run-1", time.Now().UTC())))
	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.LoadRun(ctx, "run-1")
	assert.ErrorIs(t, err, framework.ErrNotFound)

	var rows int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trace_entries`).Scan(&rows))
	assert.Zero(t, rows)

	assert.Error(t, store.SaveRun(ctx, &framework.AgentResult{}))
}

func TestOpenRunStoreInMemory(t *testing.T) {
	store, err := OpenRunStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveRun(context.Background(), sampleResult("mem", time.Now().UTC())))

	_, err = OpenRunStore("")
	assert.Error(t, err)
}
