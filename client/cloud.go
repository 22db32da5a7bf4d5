package client

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentctl/agentctl/internal/engine"
)

// defaultCloudBaseURL is the fixed compile-time endpoint for production
// builds: the CloudRuntime is not meant to be pointed at an arbitrary
// host by end-user configuration.
const defaultCloudBaseURL = "https://api.agentctl.dev"

// CloudRuntime executes tasks against the hosted control plane: upload
// the local workspace, POST /execute, download whatever changed.
type CloudRuntime struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCloudRuntime builds a CloudRuntime authenticated with apiKey (read
// from config or the environment by the caller), pointed at the fixed
// production endpoint.
func NewCloudRuntime(apiKey string) *CloudRuntime {
	return NewCloudRuntimeWithBaseURL(apiKey, defaultCloudBaseURL)
}

// NewCloudRuntimeWithBaseURL is the escape hatch for tests and non-production
// builds that must point at a local or staging server.
func NewCloudRuntimeWithBaseURL(apiKey, baseURL string) *CloudRuntime {
	return &CloudRuntime{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
}

func (c *CloudRuntime) Type() RuntimeType { return RuntimeCloud }

type executeRequestBody struct {
	Task        string                   `json:"task"`
	WorkspaceID string                   `json:"workspace_id"`
	SessionID   string                   `json:"session_id,omitempty"`
	MCPServers  []engine.MCPServerConfig `json:"mcp_servers,omitempty"`
}

type executeResponseBody struct {
	Output      string         `json:"output"`
	SessionID   string         `json:"session_id"`
	WorkspaceID string         `json:"workspace_id"`
	Usage       map[string]any `json:"usage,omitempty"`
	Billing     map[string]any `json:"billing,omitempty"`
}

// Execute implements Runtime: upload, invoke, download, in that order,
// skipping the workspace legs when params.SkipWorkspaceSync is set.
func (c *CloudRuntime) Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	if params.Task == "" {
		return ExecuteResult{}, newError(ErrValidation, "task must not be empty")
	}
	if params.Workspace == "" {
		return ExecuteResult{}, newError(ErrValidation, "workspace must not be empty")
	}
	workspaceID := filepath.Base(params.Workspace)

	if !params.SkipWorkspaceSync {
		if err := c.uploadWorkspace(ctx, workspaceID, params.Workspace); err != nil {
			return ExecuteResult{}, err
		}
	}

	resp, err := c.invoke(ctx, executeRequestBody{
		Task:        params.Task,
		WorkspaceID: workspaceID,
		SessionID:   params.SessionID,
		MCPServers:  params.MCPServers,
	})
	if err != nil {
		return ExecuteResult{}, err
	}

	if !params.SkipWorkspaceSync {
		if err := c.downloadWorkspace(ctx, workspaceID, params.Workspace); err != nil {
			return ExecuteResult{}, err
		}
	}

	metadata := map[string]any{}
	for k, v := range resp.Usage {
		metadata[k] = v
	}
	for k, v := range resp.Billing {
		metadata[k] = v
	}

	return ExecuteResult{Output: resp.Output, SessionID: resp.SessionID, Metadata: metadata}, nil
}

func (c *CloudRuntime) invoke(ctx context.Context, body executeRequestBody) (*executeResponseBody, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, wrapError(ErrInternal, "failed to marshal execute request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(b))
	if err != nil {
		return nil, wrapError(ErrInternal, "failed to build execute request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(ErrTimeout, "client-side execute deadline exceeded")
		}
		return nil, wrapError(ErrEngine, "execute request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorForStatus(resp.StatusCode, string(raw))
	}

	var out executeResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, wrapError(ErrInternal, "failed to decode execute response", err)
	}
	return &out, nil
}

// uploadWorkspace tars and gzips the local workspace tree and streams it
// to the server in a single multipart request, matched on the server side
// by internal/workspace.Manager.UploadTar.
func (c *CloudRuntime) uploadWorkspace(ctx context.Context, workspaceID, localPath string) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		if filepath.Base(rel) == ".git" || rel == ".git" {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return wrapError(ErrInternal, "failed to tar local workspace", err)
	}
	if err := tw.Close(); err != nil {
		return wrapError(ErrInternal, "failed to finalize tar stream", err)
	}
	if err := gw.Close(); err != nil {
		return wrapError(ErrInternal, "failed to finalize gzip stream", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("format", "tar"); err != nil {
		return wrapError(ErrInternal, "failed to build upload form", err)
	}
	part, err := mw.CreateFormFile("file", "workspace.tar.gz")
	if err != nil {
		return wrapError(ErrInternal, "failed to build upload form", err)
	}
	if _, err := io.Copy(part, &buf); err != nil {
		return wrapError(ErrInternal, "failed to build upload form", err)
	}
	if err := mw.Close(); err != nil {
		return wrapError(ErrInternal, "failed to build upload form", err)
	}

	url := fmt.Sprintf("%s/workspace/%s/upload", c.baseURL, workspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return wrapError(ErrInternal, "failed to build upload request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapError(ErrEngine, "workspace upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return errorForStatus(resp.StatusCode, string(raw))
	}
	return nil
}

type remoteFileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

// downloadWorkspace recursively lists the remote workspace tree and pulls
// every file back into localPath. There is no bulk-download endpoint, so
// this walks directories one GET /workspace/:id/files call at a time.
func (c *CloudRuntime) downloadWorkspace(ctx context.Context, workspaceID, localPath string) error {
	files, err := c.listRemote(ctx, workspaceID, "")
	if err != nil {
		return err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for _, f := range files {
		if f.IsDir {
			if err := c.downloadDir(ctx, workspaceID, f.Path, localPath); err != nil {
				return err
			}
			continue
		}
		if err := c.downloadFile(ctx, workspaceID, f.Path, localPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *CloudRuntime) downloadDir(ctx context.Context, workspaceID, remoteDir, localPath string) error {
	files, err := c.listRemote(ctx, workspaceID, remoteDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir {
			if err := c.downloadDir(ctx, workspaceID, f.Path, localPath); err != nil {
				return err
			}
			continue
		}
		if err := c.downloadFile(ctx, workspaceID, f.Path, localPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *CloudRuntime) listRemote(ctx context.Context, workspaceID, path string) ([]remoteFileEntry, error) {
	url := fmt.Sprintf("%s/workspace/%s/files", c.baseURL, workspaceID)
	if path != "" {
		url += "?path=" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wrapError(ErrInternal, "failed to build list request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapError(ErrEngine, "workspace listing failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorForStatus(resp.StatusCode, string(raw))
	}

	var out struct {
		Files []remoteFileEntry `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, wrapError(ErrInternal, "failed to decode listing response", err)
	}
	return out.Files, nil
}

func (c *CloudRuntime) downloadFile(ctx context.Context, workspaceID, remotePath, localPath string) error {
	url := fmt.Sprintf("%s/workspace/%s/download/%s", c.baseURL, workspaceID, remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return wrapError(ErrInternal, "failed to build download request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapError(ErrEngine, "workspace file download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return errorForStatus(resp.StatusCode, string(raw))
	}

	dest := filepath.Join(localPath, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return wrapError(ErrInternal, "failed to create local download directory", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return wrapError(ErrInternal, "failed to create local download file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return wrapError(ErrInternal, "failed to write downloaded file", err)
	}
	return nil
}
