// Package sessionaudit persists the best-effort audit record for a
// session at <object-root>/.sessions/<session_id>.json, a distinct
// concern from the thread cache's eviction sidecar
// (internal/threadcache/sidecar.go) even though it is built the same way:
// write-to-temp-then-rename, failures logged and swallowed.
package sessionaudit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is the durable per-session audit/resume entry.
type Record struct {
	SessionID   string    `json:"session_id"`
	ThreadID    string    `json:"thread_id"`
	WorkspaceID string    `json:"workspace_id"`
	Created     time.Time `json:"created"`
	LastRun     time.Time `json:"last_run"`
	RunCount    int       `json:"run_count"`
}

func dir(objectRoot string) string {
	return filepath.Join(objectRoot, ".sessions")
}

func path(objectRoot, sessionID string) string {
	return filepath.Join(dir(objectRoot), sessionID+".json")
}

// Store reads and writes session audit records under one object root.
type Store struct {
	objectRoot string
}

// New wraps an object mount root.
func New(objectRoot string) *Store {
	return &Store{objectRoot: objectRoot}
}

// Write persists rec, creating the directory on first use. Best-effort:
// failures are logged, never returned — an audit write must never fail
// the execution it records.
func (s *Store) Write(rec Record) {
	if err := os.MkdirAll(dir(s.objectRoot), 0o755); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("sessionaudit: failed to create dir")
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("sessionaudit: failed to marshal record")
		return
	}
	p := path(s.objectRoot, rec.SessionID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("sessionaudit: failed to write record")
		return
	}
	if err := os.Rename(tmp, p); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("sessionaudit: failed to rename record")
	}
}

// RecordRun loads the existing record (if any), bumps RunCount/LastRun, and
// persists it, creating one on first use.
func (s *Store) RecordRun(sessionID, threadID, workspaceID string, at time.Time) {
	rec, err := s.Get(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("sessionaudit: failed to read existing record")
	}
	if rec == nil {
		rec = &Record{SessionID: sessionID, ThreadID: threadID, WorkspaceID: workspaceID, Created: at}
	}
	rec.LastRun = at
	rec.RunCount++
	s.Write(*rec)
}

// Get returns nil, nil when no record exists for sessionID.
func (s *Store) Get(sessionID string) (*Record, error) {
	b, err := os.ReadFile(path(s.objectRoot, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every persisted session record.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(dir(s.objectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir(s.objectRoot), e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete removes a session's audit record, ignoring a not-exist error.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(path(s.objectRoot, sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteOlderThan removes every record whose LastRun predates the horizon,
// returning the deleted session ids. Used by the scheduled session sweep.
func (s *Store) DeleteOlderThan(horizon time.Duration) ([]string, error) {
	recs, err := s.List()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-horizon)
	var deleted []string
	for _, rec := range recs {
		if rec.LastRun.Before(cutoff) {
			if err := s.Delete(rec.SessionID); err != nil {
				log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("sessionaudit: failed to delete stale record")
				continue
			}
			deleted = append(deleted, rec.SessionID)
		}
	}
	return deleted, nil
}
