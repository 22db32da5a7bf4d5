package httpapi

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// WorkspaceListFiles serves GET /workspace/:id/files?path=.
func (s *Server) WorkspaceListFiles(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if err := validateID("workspace_id", workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}

	path := r.URL.Query().Get("path")
	entries, err := s.WS.List(workspaceID, path)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": workspaceID,
		"path":         path,
		"files":        entries,
	})
}

// WorkspaceUpload serves POST /workspace/:id/upload (multipart).
func (s *Server) WorkspaceUpload(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if err := validateID("workspace_id", workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(s.Cfg.MaxUploadBytes); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.Validation, "failed to parse multipart upload", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAppError(w, r, apperr.New(apperr.Validation, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	// format=tar is how the cloud runtime's upload leg streams a whole
	// workspace tree in one request instead of one call per file.
	if r.FormValue("format") == "tar" {
		if err := s.WS.UploadTar(workspaceID, file); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"workspace_id": workspaceID, "format": "tar"})
		return
	}

	target := r.FormValue("path")
	if target == "" {
		target = header.Filename
	}

	if _, err := s.WS.Ensure(workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.WS.Upload(workspaceID, target, file, header.Size); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"workspace_id": workspaceID,
		"path":         target,
		"size":         header.Size,
	})
}

// WorkspaceDownload serves GET /workspace/:id/download/* as a streamed
// download.
func (s *Server) WorkspaceDownload(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if err := validateID("workspace_id", workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}

	subpath := chi.URLParam(r, "*")
	f, err := s.WS.Open(workspaceID, subpath)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("workspace download: failed to stat file")
		writeAppError(w, r, apperr.Wrap(apperr.Internal, "failed to stat file", err))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(subpath)))
	http.ServeContent(w, r, filepath.Base(subpath), info.ModTime(), f)
}

// WorkspaceDeleteFile serves DELETE /workspace/:id/files/*.
func (s *Server) WorkspaceDeleteFile(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if err := validateID("workspace_id", workspaceID); err != nil {
		writeAppError(w, r, err)
		return
	}

	subpath := chi.URLParam(r, "*")
	if err := s.WS.DeleteFile(workspaceID, subpath); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"workspace_id": workspaceID, "deleted": subpath})
}
