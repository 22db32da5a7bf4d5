package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentctl/agentctl/internal/apperr"
)

func TestOpenThreadAndRun(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/threads":
			json.NewEncoder(w).Encode(openThreadResponse{ThreadID: "thread-123"})
		case "/threads/thread-123/run":
			var req runRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(runResponse{
				FinalText:    "done: " + req.Task,
				InputTokens:  10,
				OutputTokens: 5,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "secret-cred")
	thread, err := adapter.OpenThread(context.Background(), OpenThreadParams{WorkingDirectory: "/tmp/ws-1"})
	if err != nil {
		t.Fatalf("OpenThread returned error: %v", err)
	}
	if thread.ID() != "thread-123" {
		t.Errorf("ID() = %q, want thread-123", thread.ID())
	}
	if gotAuth != "Bearer secret-cred" {
		t.Errorf("Authorization header = %q, want Bearer secret-cred", gotAuth)
	}

	turn, err := thread.Run(context.Background(), "list files")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if turn.FinalText != "done: list files" {
		t.Errorf("FinalText = %q", turn.FinalText)
	}
	if turn.InputTokens != 10 || turn.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", turn.InputTokens, turn.OutputTokens)
	}
}

func TestOpenThreadRejectsInvalidMCPServer(t *testing.T) {
	adapter := NewHTTPAdapter("http://unused", "cred")
	_, err := adapter.OpenThread(context.Background(), OpenThreadParams{
		WorkingDirectory: "/tmp/ws-1",
		MCPServers:       []MCPServerConfig{{Type: "stdio", Name: "missing-command"}},
	})
	if err == nil {
		t.Fatal("expected validation error for stdio server without command")
	}
}

func TestEngineErrorStatusMapsToEngineErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "cred")
	_, err := adapter.OpenThread(context.Background(), OpenThreadParams{WorkingDirectory: "/tmp/ws-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := apperr.As(err).Kind; kind != apperr.EngineError {
		t.Errorf("error kind = %q, want %q", kind, apperr.EngineError)
	}
}
