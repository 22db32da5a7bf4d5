package httpapi

import (
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ListSessions serves GET /sessions, inspecting the session audit
// sidecars on the object mount.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.Audit.List()
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.Internal, "failed to list sessions", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// ListActiveSessions serves GET /sessions/active/list, the in-memory-only
// view of the Thread Cache.
func (s *Server) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.Cache.ListActive()})
}

// GetSession serves GET /sessions/:id.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	rec, err := s.Audit.Get(sessionID)
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.Internal, "failed to read session record", err))
		return
	}
	if rec == nil {
		writeAppError(w, r, apperr.New(apperr.NotFound, "session not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteSession serves DELETE /sessions/:id: removes both the live thread
// cache entry (if any) and the audit sidecar.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	s.Cache.Delete(sessionID)
	if err := s.Audit.Delete(sessionID); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.Internal, "failed to delete session", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": sessionID})
}

// ListWorkspaces serves GET /workspaces.
func (s *Server) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	ids, err := s.WS.ListWorkspaces()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": ids})
}

// DeleteWorkspace serves DELETE /workspaces/:id.
func (s *Server) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if err := s.WS.DeleteWorkspace(workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": workspaceID})
}

type cleanupRequest struct {
	OlderThanDays *int `json:"older_than_days,omitempty"`
}

func (req cleanupRequest) horizon() time.Duration {
	days := 7
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// CleanupSessions serves POST /cleanup/sessions body {older_than_days?=7}.
func (s *Server) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
	}

	deleted, err := s.Audit.DeleteOlderThan(req.horizon())
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.Internal, "failed to sweep sessions", err))
		return
	}
	log.Ctx(r.Context()).Info().Int("deleted", len(deleted)).Msg("session cleanup swept stale audit records")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "count": len(deleted)})
}

// CleanupWorkspaces serves POST /cleanup/workspaces body {older_than_days?=7}.
func (s *Server) CleanupWorkspaces(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err)
			return
		}
	}

	deleted, err := s.WS.SweepOlderThan(req.horizon())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Int("deleted", len(deleted)).Msg("workspace cleanup swept stale directories")
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "count": len(deleted)})
}
