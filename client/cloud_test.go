package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCloudRuntimeExecuteRoundTrip(t *testing.T) {
	var sawAuth string
	var uploadedFormat string

	mux := http.NewServeMux()
	mux.HandleFunc("/workspace/ws-1/upload", func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		uploadedFormat = r.FormValue("format")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		var body executeRequestBody
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(executeResponseBody{
			Output:      "did: " + body.Task,
			SessionID:   "sess-remote-1",
			WorkspaceID: body.WorkspaceID,
			Usage:       map[string]any{"input_tokens": float64(4)},
		})
	})
	mux.HandleFunc("/workspace/ws-1/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"files": []remoteFileEntry{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	root := t.TempDir()
	wsDir := filepath.Join(root, "ws-1")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rt := NewCloudRuntimeWithBaseURL("test-api-key", srv.URL)
	result, err := rt.Execute(context.Background(), ExecuteParams{
		Task: "build it", Workspace: wsDir,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "did: build it" {
		t.Errorf("Output = %q", result.Output)
	}
	if result.SessionID != "sess-remote-1" {
		t.Errorf("SessionID = %q, want sess-remote-1", result.SessionID)
	}
	if sawAuth != "Bearer test-api-key" {
		t.Errorf("upload Authorization = %q, want Bearer test-api-key", sawAuth)
	}
	if uploadedFormat != "tar" {
		t.Errorf("upload format = %q, want tar", uploadedFormat)
	}
	if got, ok := result.Metadata["input_tokens"]; !ok || got != float64(4) {
		t.Errorf("Metadata[input_tokens] = %v, want 4", got)
	}
}

func TestCloudRuntimeSkipWorkspaceSync(t *testing.T) {
	uploads := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/workspace/ws-eph/upload", func(w http.ResponseWriter, r *http.Request) {
		uploads++
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponseBody{Output: "ok", SessionID: "s1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rt := NewCloudRuntimeWithBaseURL("key", srv.URL)
	_, err := rt.Execute(context.Background(), ExecuteParams{
		Task: "t", Workspace: "/tmp/ws-eph", SkipWorkspaceSync: true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if uploads != 0 {
		t.Errorf("uploads = %d, want 0 when workspace sync is skipped", uploads)
	}
}

func TestCloudRuntimeSurfacesInsufficientCredits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rt := NewCloudRuntimeWithBaseURL("key", srv.URL)
	_, err := rt.Execute(context.Background(), ExecuteParams{
		Task: "t", Workspace: "/tmp/ws-x", SkipWorkspaceSync: true,
	})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected a typed client error, got %v", err)
	}
	if ce.Kind != ErrInsufficientCredits {
		t.Errorf("Kind = %q, want %q", ce.Kind, ErrInsufficientCredits)
	}
}
