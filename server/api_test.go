package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/agentcore/agents"
	"github.com/lexcodex/agentcore/framework"
	"github.com/lexcodex/agentcore/persistence"
)

const createScript = `responses:
  - text: '{"thought": "write it", "tool": "file_create", "arguments": {"path": "hello.txt", "content": "hi"}, "complete": true, "answer": "created hello.txt"}'
`

func newTestServer(t *testing.T, script string) *APIServer {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o644))

	cfg := agents.DefaultConfig()
	cfg.SandboxDir = filepath.Join(dir, "workspace")
	cfg.Model.Provider = "scripted"
	cfg.Model.Script = scriptPath
	cfg.Store.Path = filepath.Join(dir, "runs.db")
	env, err := agents.Bootstrap(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return &APIServer{Env: env}
}

func postRun(t *testing.T, handler http.Handler, req RunRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body)))
	return rec
}

func TestAPIServerRunsTaskInOwnSandbox(t *testing.T) {
	api := newTestServer(t, createScript)
	handler := api.Handler()

	rec := postRun(t, handler, RunRequest{Instruction: "create hello.txt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Empty(t, resp.Error)
	assert.Equal(t, framework.StatusCompleted, resp.Result.Status)
	assert.Equal(t, "created hello.txt", resp.Result.FinalAnswer)

	created := filepath.Join(api.Env.Config.SandboxDir, "runs", resp.Result.RunID, "hello.txt")
	data, err := os.ReadFile(created)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	show := httptest.NewRecorder()
	handler.ServeHTTP(show, httptest.NewRequest(http.MethodGet, "/api/runs/"+resp.Result.RunID, nil))
	require.Equal(t, http.StatusOK, show.Code)
	var archived framework.AgentResult
	require.NoError(t, json.Unmarshal(show.Body.Bytes(), &archived))
	assert.Len(t, archived.Trace, 1)

	list := httptest.NewRecorder()
	handler.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var runs []persistence.RunSummary
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, resp.Result.RunID, runs[0].ID)
}

const deniedScript = `responses:
  - text: '{"tool": "file_read", "arguments": {"path": "../../etc/passwd"}}'
  - text: '{"complete": true, "answer": "refused"}'
`

func TestAPIServerServesAudit(t *testing.T) {
	api := newTestServer(t, deniedScript)
	handler := api.Handler()

	rec := postRun(t, handler, RunRequest{Instruction: "read passwd"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Audit, 1)

	audit := httptest.NewRecorder()
	handler.ServeHTTP(audit, httptest.NewRequest(http.MethodGet, "/api/audit?run_id="+resp.Result.RunID, nil))
	require.Equal(t, http.StatusOK, audit.Code)
	var records []framework.AuditRecord
	require.NoError(t, json.Unmarshal(audit.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "file_read", records[0].Tool)
	assert.Equal(t, "denied", records[0].Result)

	empty := httptest.NewRecorder()
	handler.ServeHTTP(empty, httptest.NewRequest(http.MethodGet, "/api/audit?action=exec", nil))
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, "[]", empty.Body.String())
}

func TestAPIServerRejectsBadRequests(t *testing.T) {
	api := newTestServer(t, createScript)
	handler := api.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, postRun(t, handler, RunRequest{Instruction: "  "}).Code)
	assert.Equal(t, http.StatusBadRequest, postRun(t, handler, RunRequest{Instruction: "x", Strategy: "tot"}).Code)

	missing := httptest.NewRecorder()
	handler.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAPIServerListsTools(t *testing.T) {
	api := newTestServer(t, createScript)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var schemas []framework.ToolSchema
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schemas))
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "file_read")
	assert.Contains(t, names, "code_generate")
	assert.NotContains(t, names, "shell_exec")
}
