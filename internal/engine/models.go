// Package engine is the sole contact surface with the external Engine:
// the program that actually runs a task against a workspace directory
// and reports final text plus token counts.
package engine

import (
	"context"

	"github.com/agentctl/agentctl/internal/apperr"
)

// MCPServerConfig is a tagged union: stdio for a local subprocess
// plug-in, http for a remote one. Only one of the type-specific field
// groups is populated, selected by Type.
type MCPServerConfig struct {
	Type string `json:"type"` // "stdio" | "http"
	Name string `json:"name"`

	// stdio fields
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// http fields
	URL               string            `json:"url,omitempty"`
	BearerToken       string            `json:"bearer_token,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	AllowedTools      []string          `json:"allowed_tools,omitempty"`
	StartupTimeoutSec int               `json:"startup_timeout_sec,omitempty"`
	ToolTimeoutSec    int               `json:"tool_timeout_sec,omitempty"`
}

const (
	MCPTypeStdio = "stdio"
	MCPTypeHTTP  = "http"
)

// Validate rejects a config whose type is neither stdio nor http, a stdio
// config without a command, an http config without a url, and a config
// without a name. Fields belonging to the other shape are not checked.
func (c MCPServerConfig) Validate() error {
	switch c.Type {
	case MCPTypeStdio:
		if c.Command == "" {
			return apperr.New(apperr.Validation, "stdio mcp_server requires command")
		}
	case MCPTypeHTTP:
		if c.URL == "" {
			return apperr.New(apperr.Validation, "http mcp_server requires url")
		}
	default:
		return apperr.New(apperr.Validation, "mcp_server type must be stdio or http")
	}
	if c.Name == "" {
		return apperr.New(apperr.Validation, "mcp_server requires name")
	}
	return nil
}

// OpenThreadParams are the arguments to Adapter.OpenThread.
type OpenThreadParams struct {
	WorkingDirectory string
	Sandbox          string // default "danger-full-access"
	SkipVCSCheck     bool
	MCPServers       []MCPServerConfig
}

// Turn is one Engine response to a single task.
type Turn struct {
	FinalText    string
	InputTokens  int
	OutputTokens int
	ThreadID     string
}

// Thread is the live handle returned by OpenThread. Implementations may
// wrap a remote session id, a subprocess handle, or anything else the
// concrete Engine transport requires — it is opaque to the Thread Cache.
type Thread interface {
	ID() string
	Run(ctx context.Context, task string) (Turn, error)
}

// Adapter opens threads against the external Engine.
type Adapter interface {
	OpenThread(ctx context.Context, params OpenThreadParams) (Thread, error)
}
