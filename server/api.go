package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/agents"
	"github.com/lexcodex/agentcore/framework"
)

// DefaultRunTimeout bounds a single run started over HTTP.
const DefaultRunTimeout = 5 * time.Minute

// APIServer exposes HTTP endpoints for running tasks without the CLI. Each
// run gets its own sandbox directory under <sandbox_dir>/runs so concurrent
// requests never share files or references.
type APIServer struct {
	Env        *agents.Environment
	Logger     *zap.Logger
	RunTimeout time.Duration
}

// RunRequest describes the incoming payload of POST /api/runs.
type RunRequest struct {
	Instruction string            `json:"instruction"`
	Strategy    string            `json:"strategy,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// RunResponse carries the result of a run. Error is set when the run did not
// complete.
type RunResponse struct {
	Result *framework.AgentResult `json:"result"`
	Error  string                 `json:"error,omitempty"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routing table.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleShowRun)
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	return mux
}

func (s *APIServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	sandbox := filepath.Join(s.Env.Config.SandboxDir, "runs", id)
	agent, err := s.Env.AgentFor(sandbox, req.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timeout := s.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	task := &framework.Task{ID: id, Instruction: req.Instruction, Constraints: req.Constraints}
	result, err := agent.Run(ctx, task)
	if result == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, framework.ErrInvalidArgument) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	resp := RunResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.Env.Store == nil {
		http.Error(w, "run archive disabled", http.StatusNotImplemented)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.Env.Store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *APIServer) handleShowRun(w http.ResponseWriter, r *http.Request) {
	if s.Env.Store == nil {
		http.Error(w, "run archive disabled", http.StatusNotImplemented)
		return
	}
	result, err := s.Env.Store.LoadRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, framework.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAudit serves denied tool actions from the archive, filtered by the
// run_id, action and tool query parameters.
func (s *APIServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.Env.Store == nil {
		http.Error(w, "run archive disabled", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	records, err := s.Env.Store.QueryAudit(r.Context(), framework.AuditQuery{
		RunID:  q.Get("run_id"),
		Action: framework.AuditAction(q.Get("action")),
		Tool:   q.Get("tool"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []framework.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *APIServer) handleTools(w http.ResponseWriter, r *http.Request) {
	agent, err := s.Env.Agent("")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agent.Tools().DescribeAll())
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
