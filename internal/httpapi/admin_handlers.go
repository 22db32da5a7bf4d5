package httpapi

import (
	"net/http"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/go-chi/chi/v5"
)

type createKeyRequest struct {
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	KeyType       keystore.KeyType `json:"key_type,omitempty"`
	Prefix        string           `json:"prefix,omitempty"`
	ExpiresInDays *int             `json:"expires_in_days,omitempty"`
	Permissions   []string         `json:"permissions,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

type createKeyResponse struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"`
	KeyPrefix   string           `json:"key_prefix"`
	KeyType     keystore.KeyType `json:"key_type"`
	Name        string           `json:"name"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	Permissions []string         `json:"permissions"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Warning     string           `json:"warning"`
}

// AdminCreateKey serves POST /admin/keys.
func (s *Server) AdminCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if req.Name == "" {
		writeAppError(w, r, apperr.New(apperr.Validation, "name must not be empty"))
		return
	}

	key, err := s.Keys.Create(r.Context(), keystore.CreateParams{
		Name:          req.Name,
		Description:   req.Description,
		KeyType:       req.KeyType,
		Prefix:        req.Prefix,
		ExpiresInDays: req.ExpiresInDays,
		Permissions:   req.Permissions,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:          key.ID,
		Key:         key.Plaintext,
		KeyPrefix:   key.KeyPrefix,
		KeyType:     key.KeyType,
		Name:        key.Name,
		CreatedAt:   key.CreatedAt,
		ExpiresAt:   key.ExpiresAt,
		Permissions: key.Permissions,
		Metadata:    key.Metadata,
		Warning:     "store this key now; it cannot be retrieved again",
	})
}

// AdminListKeys serves GET /admin/keys?limit&offset&include_inactive.
func (s *Server) AdminListKeys(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	offset, _ := parseOffset(r.URL.Query().Get("offset"))
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	keys, total, err := s.Keys.List(r.Context(), limit, offset, includeInactive)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"keys":   keys,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// AdminGetKey serves GET /admin/keys/:id, augmented with a usage summary.
func (s *Server) AdminGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.Keys.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	summary, err := s.Keys.GetUsageSummary(r.Context(), id, nil)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "usage": summary})
}

type updateKeyRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AdminUpdateKey serves PATCH /admin/keys/:id.
func (s *Server) AdminUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	key, err := s.Keys.Update(r.Context(), id, keystore.UpdateParams{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// AdminRevokeKey serves POST /admin/keys/:id/revoke.
func (s *Server) AdminRevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Keys.Revoke(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}

// AdminDeleteKey serves DELETE /admin/keys/:id.
func (s *Server) AdminDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Keys.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// AdminKeyUsage serves GET /admin/keys/:id/usage?since?.
func (s *Server) AdminKeyUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = &t
		}
	}

	summary, err := s.Keys.GetUsageSummary(r.Context(), id, since)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
