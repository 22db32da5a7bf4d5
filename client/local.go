package client

import (
	"context"
	"sync"

	"github.com/agentctl/agentctl/internal/engine"
)

// LocalRuntime opens Engine threads directly against the caller's own
// filesystem, with no server hop. It caches one live thread per workspace
// path so a second Execute call on the same workspace continues the same
// conversation automatically; Agents that share a workspace path share
// that thread. This is the in-process analog of the server's
// thread cache but without TTL eviction or sidecar persistence — a local
// process's threads die with the process.
type LocalRuntime struct {
	adapter engine.Adapter

	mu      sync.Mutex
	threads map[string]engine.Thread
}

// NewLocalRuntime builds a Runtime that talks to adapter directly.
func NewLocalRuntime(adapter engine.Adapter) *LocalRuntime {
	return &LocalRuntime{adapter: adapter, threads: make(map[string]engine.Thread)}
}

func (l *LocalRuntime) Type() RuntimeType { return RuntimeLocal }

// Execute implements Runtime. Threads are cached per workspace path — one
// live conversation per workspace within this process — so an Agent that
// echoes back whatever session id the previous call returned still lands
// on the thread it started with.
func (l *LocalRuntime) Execute(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	if params.Task == "" {
		return ExecuteResult{}, newError(ErrValidation, "task must not be empty")
	}
	if params.Workspace == "" {
		return ExecuteResult{}, newError(ErrValidation, "workspace must not be empty")
	}

	key := params.Workspace

	l.mu.Lock()
	thread, ok := l.threads[key]
	l.mu.Unlock()

	if !ok {
		opened, err := l.adapter.OpenThread(ctx, engine.OpenThreadParams{
			WorkingDirectory: params.Workspace,
			MCPServers:       params.MCPServers,
		})
		if err != nil {
			return ExecuteResult{}, wrapError(ErrEngine, "failed to open local engine thread", err)
		}
		thread = opened
		l.mu.Lock()
		l.threads[key] = thread
		l.mu.Unlock()
	}

	turn, err := thread.Run(ctx, params.Task)
	if err != nil {
		if ctx.Err() != nil {
			return ExecuteResult{}, wrapError(ErrTimeout, "local engine run timed out", err)
		}
		return ExecuteResult{}, wrapError(ErrEngine, "local engine run failed", err)
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = thread.ID()
	}

	return ExecuteResult{
		Output:    turn.FinalText,
		SessionID: sessionID,
		Metadata: map[string]any{
			"input_tokens":  turn.InputTokens,
			"output_tokens": turn.OutputTokens,
		},
	}, nil
}
