// Package threadcache implements the bounded, TTL-evicting in-memory map
// from session_id to a live Engine conversation handle, with a durable
// metadata sidecar written on eviction so a restarted host can recognize
// sessions it can no longer resume.
package threadcache

import "time"

// Handle is the opaque, non-persistable Engine conversation handle a
// SessionThread wraps. The cache never inspects it.
type Handle interface{}

// SessionThread is the live, in-memory record for one session_id.
type SessionThread struct {
	SessionID    string
	ThreadID     string
	WorkspaceID  string
	Handle       Handle
	CreatedAt    time.Time
	LastAccessed time.Time
}

// ThreadMetadata is the durable sidecar persisted on eviction, at
// <object-root>/.thread-cache/<session_id>.json. It lets a restarted host
// recognize that a session previously existed, but it cannot reconstitute
// the Engine handle.
type ThreadMetadata struct {
	ThreadID     string    `json:"thread_id"`
	SessionID    string    `json:"session_id"`
	WorkspaceID  string    `json:"workspace_id"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
}

// LookupResult distinguishes the three outcomes of Get so the execute
// handler can log a restart-recovery notice on a metadata-only hit.
type LookupResult struct {
	Thread       *SessionThread
	MetadataOnly bool
}
