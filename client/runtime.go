package client

import (
	"context"

	"github.com/agentctl/agentctl/internal/engine"
)

// RuntimeType distinguishes a Local runtime from a Cloud one.
type RuntimeType string

const (
	RuntimeLocal RuntimeType = "local"
	RuntimeCloud RuntimeType = "cloud"
)

// ExecuteParams are the arguments to Runtime.Execute.
type ExecuteParams struct {
	AgentType  AgentType
	Task       string
	Workspace  string
	SessionID  string
	MCPServers []engine.MCPServerConfig

	// SkipWorkspaceSync, CloudRuntime-only, skips the upload/download
	// legs of an execute call for ephemeral cloud-only runs that don't
	// need the local filesystem reconciled.
	SkipWorkspaceSync bool
}

// ExecuteResult is the Runtime-agnostic result of one execute call.
type ExecuteResult struct {
	Output    string
	SessionID string
	Metadata  map[string]any
}

// Runtime is the single verb both Local and Cloud variants implement.
type Runtime interface {
	Type() RuntimeType
	Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error)
}
