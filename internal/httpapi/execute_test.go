package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/engine"
	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/agentctl/agentctl/internal/metrics"
	"github.com/agentctl/agentctl/internal/sessionaudit"
	"github.com/agentctl/agentctl/internal/threadcache"
	"github.com/agentctl/agentctl/internal/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type fakeThread struct {
	id   string
	runs int
}

func (f *fakeThread) ID() string { return f.id }

func (f *fakeThread) Run(ctx context.Context, task string) (engine.Turn, error) {
	f.runs++
	return engine.Turn{
		FinalText:    "done: " + task,
		InputTokens:  6548,
		OutputTokens: 108,
		ThreadID:     f.id,
	}, nil
}

type fakeAdapter struct {
	opened  int
	nextID  string
	threads []*fakeThread
}

func (f *fakeAdapter) OpenThread(ctx context.Context, params engine.OpenThreadParams) (engine.Thread, error) {
	f.opened++
	id := f.nextID
	if id == "" {
		id = "thread-1"
	}
	t := &fakeThread{id: id}
	f.threads = append(f.threads, t)
	return t, nil
}

func newTestServer(t *testing.T, adapter engine.Adapter) *Server {
	t.Helper()
	mount := t.TempDir()
	cfg := &config.Config{
		ObjectMountPath: mount,
		Cache:           config.CacheConfig{NMax: 100, TTL: time.Hour},
		ExecuteDeadline: time.Minute,
		MaxTaskBytes:    100 * 1024,
	}
	return &Server{
		Cfg:            cfg,
		Cache:          threadcache.New(cfg.Cache.NMax, cfg.Cache.TTL, mount),
		WS:             workspace.New(mount),
		Engine:         adapter,
		Metrics:        metrics.NewWithRegistry("test", prometheus.NewRegistry()),
		History:        metrics.NewHistory(10),
		Audit:          sessionaudit.New(mount),
		engineThrottle: rate.NewLimiter(rate.Inf, 1),
	}
}

func postExecute(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(b))
	rec := httptest.NewRecorder()
	handler := s.validateExecuteMiddleware(s.budgetCheckMiddleware(http.HandlerFunc(s.Execute)))
	handler.ServeHTTP(rec, req)
	return rec
}

func TestExecuteSessionContinuity(t *testing.T) {
	adapter := &fakeAdapter{nextID: "thread-A"}
	s := newTestServer(t, adapter)

	var sessionID string
	for i := 0; i < 3; i++ {
		rec := postExecute(t, s, ExecuteRequest{Task: "step", WorkspaceID: "w1", SessionID: sessionID})
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: status %d, body %s", i+1, rec.Code, rec.Body.String())
		}
		var resp executeResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("call %d: decode: %v", i+1, err)
		}
		if sessionID == "" {
			sessionID = resp.SessionID
		} else if resp.SessionID != sessionID {
			t.Fatalf("call %d: session id changed from %s to %s", i+1, sessionID, resp.SessionID)
		}
	}

	if adapter.opened != 1 {
		t.Errorf("expected one open_thread across the conversation, got %d", adapter.opened)
	}
	if adapter.threads[0].runs != 3 {
		t.Errorf("expected three runs on the same thread, got %d", adapter.threads[0].runs)
	}
	if s.Cache.Len() != 1 {
		t.Errorf("expected one live cache entry, got %d", s.Cache.Len())
	}
}

func TestExecuteRestartRecoveryIssuesFreshSession(t *testing.T) {
	adapter := &fakeAdapter{nextID: "thread-B"}
	s := newTestServer(t, adapter)

	rec := postExecute(t, s, ExecuteRequest{Task: "first", WorkspaceID: "w1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first call: status %d", rec.Code)
	}
	var first executeResponse
	json.Unmarshal(rec.Body.Bytes(), &first)

	// Simulate a host restart: the in-memory cache is rebuilt but the
	// sidecar written on the old host survives on the shared mount.
	s.Cache.Clear()
	s.Cache = threadcache.New(100, time.Hour, s.Cfg.ObjectMountPath)

	adapter.nextID = "thread-C"
	rec = postExecute(t, s, ExecuteRequest{Task: "after restart", WorkspaceID: "w1", SessionID: first.SessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("post-restart call: status %d, body %s", rec.Code, rec.Body.String())
	}
	var second executeResponse
	json.Unmarshal(rec.Body.Bytes(), &second)

	if second.SessionID == first.SessionID {
		t.Error("expected a fresh session id after restart recovery")
	}
	if adapter.opened != 2 {
		t.Errorf("expected a second open_thread after restart, got %d", adapter.opened)
	}
}

func TestExecuteValidationBoundaries(t *testing.T) {
	s := newTestServer(t, &fakeAdapter{})

	atLimit := ExecuteRequest{Task: strings.Repeat("a", 100*1024), WorkspaceID: "w1"}
	if rec := postExecute(t, s, atLimit); rec.Code != http.StatusOK {
		t.Errorf("task of exactly 100 KiB: status %d, want 200", rec.Code)
	}

	overLimit := ExecuteRequest{Task: strings.Repeat("a", 100*1024+1), WorkspaceID: "w1"}
	if rec := postExecute(t, s, overLimit); rec.Code != http.StatusBadRequest {
		t.Errorf("task of 100 KiB + 1: status %d, want 400", rec.Code)
	}

	longID := ExecuteRequest{Task: "t", WorkspaceID: strings.Repeat("x", 128)}
	if rec := postExecute(t, s, longID); rec.Code != http.StatusOK {
		t.Errorf("workspace id of 128 chars: status %d, want 200", rec.Code)
	}

	tooLongID := ExecuteRequest{Task: "t", WorkspaceID: strings.Repeat("x", 129)}
	if rec := postExecute(t, s, tooLongID); rec.Code != http.StatusBadRequest {
		t.Errorf("workspace id of 129 chars: status %d, want 400", rec.Code)
	}

	empty := ExecuteRequest{Task: "", WorkspaceID: "w1"}
	if rec := postExecute(t, s, empty); rec.Code != http.StatusBadRequest {
		t.Errorf("empty task: status %d, want 400", rec.Code)
	}

	badSession := ExecuteRequest{Task: "t", WorkspaceID: "w1", SessionID: "no/slashes"}
	if rec := postExecute(t, s, badSession); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed session id: status %d, want 400", rec.Code)
	}

	badMCP := ExecuteRequest{
		Task:        "t",
		WorkspaceID: "w1",
		MCPServers:  []engine.MCPServerConfig{{Type: "stdio", Name: "n"}},
	}
	if rec := postExecute(t, s, badMCP); rec.Code != http.StatusBadRequest {
		t.Errorf("stdio mcp server without command: status %d, want 400", rec.Code)
	}
}

func TestExecuteValidationRunsBeforeBudgetCheck(t *testing.T) {
	// Billing is deliberately left nil: if the budget check ran first for
	// this standard key it would touch the store; validation must reject
	// the malformed body with a 400 before that can happen.
	s := newTestServer(t, &fakeAdapter{})
	handler := s.validateExecuteMiddleware(s.budgetCheckMiddleware(http.HandlerFunc(s.Execute)))

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{not json"))
	req = req.WithContext(withAPIKey(req.Context(), "key-1", string(keystore.KeyTypeStandard)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body from a standard key: status %d, want 400", rec.Code)
	}
}

func TestExecuteWritesSessionAudit(t *testing.T) {
	s := newTestServer(t, &fakeAdapter{nextID: "thread-D"})

	rec := postExecute(t, s, ExecuteRequest{Task: "one", WorkspaceID: "w1", SessionID: "sess-audit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	postExecute(t, s, ExecuteRequest{Task: "two", WorkspaceID: "w1", SessionID: "sess-audit"})

	audit, err := s.Audit.Get("sess-audit")
	if err != nil {
		t.Fatalf("audit read: %v", err)
	}
	if audit == nil {
		t.Fatal("expected a session audit sidecar")
	}
	if audit.RunCount != 2 {
		t.Errorf("run count = %d, want 2", audit.RunCount)
	}
	if audit.WorkspaceID != "w1" {
		t.Errorf("workspace = %q, want w1", audit.WorkspaceID)
	}
}
