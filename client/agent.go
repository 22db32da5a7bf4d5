package client

import (
	"context"
	"sync"

	"github.com/agentctl/agentctl/internal/engine"
)

// AgentType distinguishes a computer-use agent (drives a workspace through
// a Runtime) from a plain LLM agent (no workspace, no Runtime).
type AgentType string

const (
	AgentTypeComputer AgentType = "computer"
	AgentTypeLLM      AgentType = "llm"
)

// AgentConfig are the construction-time arguments to NewAgent.
type AgentConfig struct {
	Type       AgentType
	Runtime    Runtime
	Tools      []string // function-tool names; computer agents must not set this
	MCPServers []engine.MCPServerConfig
}

// Agent is one logical conversation participant. It remembers the
// session_id returned by its last Execute call so the next call continues
// the same thread automatically.
type Agent struct {
	agentType  AgentType
	runtime    Runtime
	tools      []string
	mcpServers []engine.MCPServerConfig

	mu        sync.Mutex
	sessionID string
}

// NewAgent validates cfg and constructs an Agent: computer-type agents
// MUST have a runtime, LLM-type agents MUST NOT, and function-tool lists
// may not be mixed with a computer agent.
func NewAgent(cfg AgentConfig) (*Agent, error) {
	switch cfg.Type {
	case AgentTypeComputer:
		if cfg.Runtime == nil {
			return nil, newError(ErrValidation, "computer-type agents require a runtime")
		}
		if len(cfg.Tools) > 0 {
			return nil, newError(ErrValidation, "computer-type agents must not declare function tools")
		}
	case AgentTypeLLM:
		if cfg.Runtime != nil {
			return nil, newError(ErrValidation, "llm-type agents must not have a runtime")
		}
	default:
		return nil, newError(ErrValidation, "agent type must be computer or llm")
	}

	return &Agent{
		agentType:  cfg.Type,
		runtime:    cfg.Runtime,
		tools:      cfg.Tools,
		mcpServers: cfg.MCPServers,
	}, nil
}

// SessionID returns the session id this agent will continue on its next
// Execute call, or "" if none has run yet.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// ResetSession clears the remembered session id; the next Execute call
// starts a fresh thread.
func (a *Agent) ResetSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = ""
}

// ResumeSession explicitly sets the session id the next Execute call
// should continue, bypassing whatever this agent last recorded itself.
func (a *Agent) ResumeSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

// Execute runs one task against this agent's runtime, continuing the
// remembered session automatically and recording whatever session id the
// runtime returns for the next call.
func (a *Agent) Execute(ctx context.Context, task, workspace string) (ExecuteResult, error) {
	if a.agentType != AgentTypeComputer {
		return ExecuteResult{}, newError(ErrValidation, "only computer-type agents can execute against a workspace")
	}

	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	result, err := a.runtime.Execute(ctx, ExecuteParams{
		AgentType:  a.agentType,
		Task:       task,
		Workspace:  workspace,
		SessionID:  sessionID,
		MCPServers: a.mcpServers,
	})
	if err != nil {
		return ExecuteResult{}, err
	}

	a.mu.Lock()
	a.sessionID = result.SessionID
	a.mu.Unlock()

	return result, nil
}
