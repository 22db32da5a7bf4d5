package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/billingstore"
	"github.com/agentctl/agentctl/internal/engine"
	"github.com/agentctl/agentctl/internal/idgen"
	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/agentctl/agentctl/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Task        string                   `json:"task"`
	WorkspaceID string                   `json:"workspace_id"`
	SessionID   string                   `json:"session_id,omitempty"`
	MCPServers  []engine.MCPServerConfig `json:"mcp_servers,omitempty"`
}

type usageResponse struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

type billingResponse struct {
	BalanceAfter float64 `json:"balance_after"`
	TotalSpent   float64 `json:"total_spent"`
}

// executeResponse is the body of a successful POST /execute.
type executeResponse struct {
	Output      string           `json:"output"`
	SessionID   string           `json:"session_id"`
	WorkspaceID string           `json:"workspace_id"`
	Usage       *usageResponse   `json:"usage,omitempty"`
	Billing     *billingResponse `json:"billing,omitempty"`
}

const executeRequestKey contextKey = "executeRequest"

// validateExecuteMiddleware parses and validates the execute body, then
// stashes the parsed request in the context for the handler. It must run
// before budgetCheckMiddleware so a malformed or oversized body is a 400
// even when the caller is over budget.
func (s *Server) validateExecuteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
		if err := req.validate(s.Cfg.MaxTaskBytes); err != nil {
			writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), executeRequestKey, &req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func executeRequestFrom(ctx context.Context) *ExecuteRequest {
	if req, ok := ctx.Value(executeRequestKey).(*ExecuteRequest); ok {
		return req
	}
	return nil
}

func (req *ExecuteRequest) validate(maxTaskBytes int64) error {
	if req.Task == "" {
		return apperr.New(apperr.Validation, "task must not be empty")
	}
	if int64(len(req.Task)) > maxTaskBytes {
		return apperr.New(apperr.Validation, "task exceeds maximum size of 100 KiB")
	}
	if err := validateID("workspace_id", req.WorkspaceID); err != nil {
		return err
	}
	if req.SessionID != "" {
		if err := validateID("session_id", req.SessionID); err != nil {
			return err
		}
	}
	for i := range req.MCPServers {
		if err := req.MCPServers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// budgetCheckMiddleware gates the execute path on the caller's budget:
// skipped for internal keys, fail-closed on an exhausted or over-limit
// standard account, fail-open on any store error (availability over
// accounting).
func (s *Server) budgetCheckMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if KeyType(r.Context()) != string(keystore.KeyTypeStandard) {
			next.ServeHTTP(w, r)
			return
		}

		keyID := APIKeyID(r.Context())
		ctx := r.Context()

		acct, err := s.Billing.GetOrCreateAccount(ctx, keyID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key_id", keyID).Msg("budget check: failed to load account, failing open")
			next.ServeHTTP(w, r)
			return
		}
		if acct.CreditsBalance <= 0 {
			writeAppError(w, r, apperr.New(apperr.InsufficientCredits, "insufficient credits").
				WithData(map[string]any{"currentBalance": acct.CreditsBalance}))
			return
		}

		check, err := s.Billing.CheckLimits(ctx, keyID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key_id", keyID).Msg("budget check: failed to check limits, failing open")
			next.ServeHTTP(w, r)
			return
		}
		if !check.Within {
			writeAppError(w, r, apperr.New(apperr.LimitExceeded, check.Reason).WithData(map[string]any{
				"reason":        check.Reason,
				"daily_usage":   check.DailyUsage,
				"monthly_usage": check.MonthlyUsage,
			}))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Execute is the hot path: ensure the workspace, resolve or start the
// session's thread, run the task under the wall-clock deadline, then
// record usage and settle billing. Billing failures after a completed run
// are logged loudly but never undo the run.
func (s *Server) Execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	start := time.Now()

	req := executeRequestFrom(ctx)
	if req == nil {
		writeAppError(w, r, apperr.New(apperr.Internal, "execute request was not validated"))
		return
	}

	workspacePath, err := s.WS.Ensure(req.WorkspaceID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = idgen.New()
	}

	lock := s.Cache.SessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	lookup, err := s.Cache.Get(sessionID)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("execute: thread cache lookup failed")
	}

	var thread engine.Thread
	isNewSession := false
	restartRecovery := false

	switch {
	case lookup.Thread != nil:
		t, ok := lookup.Thread.Handle.(engine.Thread)
		if !ok {
			logger.Warn().Str("session_id", sessionID).Msg("execute: cached handle has unexpected type, opening fresh thread")
			isNewSession = true
		} else {
			thread = t
		}
	case lookup.MetadataOnly:
		logger.Warn().Str("session_id", sessionID).Msg("execute: session known from sidecar but Engine thread was lost (restart recovery), opening fresh thread")
		isNewSession = true
		restartRecovery = true
	default:
		isNewSession = true
	}

	if isNewSession {
		if err := s.engineThrottle.Wait(ctx); err != nil {
			writeAppError(w, r, apperr.Wrap(apperr.Timeout, "engine throttle wait aborted", err))
			return
		}
		opened, err := s.Engine.OpenThread(ctx, engine.OpenThreadParams{
			WorkingDirectory: workspacePath,
			MCPServers:       req.MCPServers,
		})
		if err != nil {
			s.Metrics.RecordExecution("error", time.Since(start))
			s.Metrics.RecordError(string(apperr.As(err).Kind))
			writeAppError(w, r, err)
			return
		}
		thread = opened

		// The dead conversation cannot be continued, so the recovered
		// session gets a fresh id keyed to the new Engine thread; the
		// caller stores it and the stale sidecar is dropped.
		if restartRecovery && thread.ID() != "" && thread.ID() != sessionID {
			s.Cache.Delete(sessionID)
			sessionID = thread.ID()
		}
	}

	deadline := s.Cfg.ExecuteDeadline
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	turn, err := thread.Run(runCtx, req.Task)
	if err != nil {
		elapsed := time.Since(start)
		s.Metrics.RecordExecution("error", elapsed)
		s.Metrics.RecordError(string(apperr.As(err).Kind))
		logger.Error().Err(err).Str("session_id", sessionID).Str("workspace_id", req.WorkspaceID).Msg("execute: engine run failed")
		writeAppError(w, r, err)
		return
	}
	elapsed := time.Since(start)

	s.Cache.Set(sessionID, thread, req.WorkspaceID, thread.ID())
	s.Audit.RecordRun(sessionID, thread.ID(), req.WorkspaceID, time.Now().UTC())

	resp := executeResponse{
		Output:      turn.FinalText,
		SessionID:   sessionID,
		WorkspaceID: req.WorkspaceID,
	}

	totalTokens := turn.InputTokens + turn.OutputTokens
	if KeyType(ctx) == string(keystore.KeyTypeStandard) && totalTokens > 0 {
		keyID := APIKeyID(ctx)
		costs := s.Billing.CalculateCost(turn.InputTokens, turn.OutputTokens)

		usageRecord := billingstore.UsageRecord{
			APIKeyID:     keyID,
			SessionID:    sessionID,
			WorkspaceID:  req.WorkspaceID,
			InputTokens:  turn.InputTokens,
			OutputTokens: turn.OutputTokens,
			TotalTokens:  totalTokens,
			InputCost:    costs.InputCost,
			OutputCost:   costs.OutputCost,
			TotalCost:    costs.TotalCost,
			DurationMs:   int(elapsed.Milliseconds()),
			Status:       billingstore.StatusSuccess,
			Endpoint:     "/execute",
		}
		if err := s.Billing.RecordUsage(ctx, usageRecord); err != nil {
			logger.Error().Err(err).Str("key_id", keyID).Msg("execute: failed to record usage, task already ran")
		}

		acct, err := s.Billing.DeductUsage(ctx, keyID, costs.TotalCost,
			fmt.Sprintf("Task execution: %s", req.WorkspaceID))
		if err != nil {
			logger.Error().Err(err).Str("key_id", keyID).Msg("execute: failed to deduct usage, task already ran")
		} else {
			resp.Billing = &billingResponse{BalanceAfter: acct.CreditsBalance, TotalSpent: acct.TotalSpent}
		}

		resp.Usage = &usageResponse{
			InputTokens:  turn.InputTokens,
			OutputTokens: turn.OutputTokens,
			TotalTokens:  totalTokens,
			TotalCost:    costs.TotalCost,
		}
	}

	s.Metrics.RecordExecution("success", elapsed)
	s.History.Add(metrics.ExecutionRecord{
		Timestamp:   time.Now().UTC(),
		WorkspaceID: req.WorkspaceID,
		Status:      "success",
		DurationMS:  elapsed.Milliseconds(),
		TotalCost:   totalCostOf(resp),
	})

	writeJSON(w, http.StatusOK, resp)
}

func totalCostOf(resp executeResponse) float64 {
	if resp.Usage == nil {
		return 0
	}
	return resp.Usage.TotalCost
}
