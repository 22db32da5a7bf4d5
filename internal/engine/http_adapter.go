package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
)

const defaultSandbox = "danger-full-access"

// HTTPAdapter calls a remote Engine service over JSON/HTTP, authenticated
// with a static server-held bearer credential.
type HTTPAdapter struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// NewHTTPAdapter builds an adapter pointed at baseURL, authenticating
// every call with credential. The client carries no overall timeout: a run
// may legitimately take minutes, so the caller's per-request context
// deadline bounds a call, and the transport additionally gives up when
// the Engine sends no response headers within 15 minutes.
func NewHTTPAdapter(baseURL, credential string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 15 * time.Minute}},
	}
}

type openThreadRequest struct {
	WorkingDirectory string            `json:"working_directory"`
	Sandbox          string            `json:"sandbox"`
	SkipVCSCheck     bool              `json:"skip_vcs_check"`
	MCPServers       []MCPServerConfig `json:"mcp_servers,omitempty"`
}

type openThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

// OpenThread opens a new thread rooted at params.WorkingDirectory.
func (a *HTTPAdapter) OpenThread(ctx context.Context, params OpenThreadParams) (Thread, error) {
	for _, srv := range params.MCPServers {
		if err := srv.Validate(); err != nil {
			return nil, err
		}
	}

	sandbox := params.Sandbox
	if sandbox == "" {
		sandbox = defaultSandbox
	}

	reqBody := openThreadRequest{
		WorkingDirectory: params.WorkingDirectory,
		Sandbox:          sandbox,
		SkipVCSCheck:     params.SkipVCSCheck,
		MCPServers:       params.MCPServers,
	}

	var resp openThreadResponse
	if err := a.post(ctx, "/threads", reqBody, &resp); err != nil {
		return nil, err
	}

	return &httpThread{adapter: a, threadID: resp.ThreadID}, nil
}

type runRequest struct {
	Task string `json:"task"`
}

type runResponse struct {
	FinalText    string `json:"final_text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type httpThread struct {
	adapter  *HTTPAdapter
	threadID string
}

func (t *httpThread) ID() string { return t.threadID }

func (t *httpThread) Run(ctx context.Context, task string) (Turn, error) {
	var resp runResponse
	path := fmt.Sprintf("/threads/%s/run", t.threadID)
	if err := t.adapter.post(ctx, path, runRequest{Task: task}, &resp); err != nil {
		return Turn{}, err
	}

	return Turn{
		FinalText:    resp.FinalText,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		ThreadID:     t.threadID,
	}, nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to marshal engine request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to build engine request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.credential)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.Timeout, "engine call timed out", err)
		}
		return apperr.Wrap(apperr.EngineError, "engine request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apperr.New(apperr.EngineError, fmt.Sprintf("engine returned status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.EngineError, "failed to decode engine response", err)
		}
	}
	return nil
}
