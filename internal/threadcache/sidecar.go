package threadcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

func sidecarDir(objectRoot string) string {
	return filepath.Join(objectRoot, ".thread-cache")
}

func sidecarPath(objectRoot, sessionID string) string {
	return filepath.Join(sidecarDir(objectRoot), sessionID+".json")
}

// writeSidecar persists metadata for a session. Failures are logged,
// never propagated: sidecar persistence is best-effort.
func writeSidecar(objectRoot string, meta ThreadMetadata) {
	dir := sidecarDir(objectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("session_id", meta.SessionID).Msg("thread-cache: failed to create sidecar dir")
		return
	}

	b, err := json.Marshal(meta)
	if err != nil {
		log.Warn().Err(err).Str("session_id", meta.SessionID).Msg("thread-cache: failed to marshal sidecar")
		return
	}

	path := sidecarPath(objectRoot, meta.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		log.Warn().Err(err).Str("session_id", meta.SessionID).Msg("thread-cache: failed to write sidecar")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warn().Err(err).Str("session_id", meta.SessionID).Msg("thread-cache: failed to rename sidecar")
	}
}

// readSidecar returns nil, nil when the file does not exist.
func readSidecar(objectRoot, sessionID string) (*ThreadMetadata, error) {
	b, err := os.ReadFile(sidecarPath(objectRoot, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta ThreadMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func removeSidecar(objectRoot, sessionID string) {
	if err := os.Remove(sidecarPath(objectRoot, sessionID)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("thread-cache: failed to remove sidecar")
	}
}

// cleanupStale deletes every sidecar whose Created timestamp is older than
// ttl. Called periodically from the cron sweep wired in cmd/server.
func cleanupStale(objectRoot string, ttl time.Duration) error {
	dir := sidecarDir(objectRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta ThreadMetadata
		if err := json.Unmarshal(b, &meta); err != nil {
			continue
		}
		if now.Sub(meta.Created) > ttl {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", path).Msg("thread-cache: failed to remove stale sidecar")
			}
		}
	}
	return nil
}
