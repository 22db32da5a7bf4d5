package threadcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultNMax is the strict upper bound on live entries.
	DefaultNMax = 100
	// DefaultTTL is how long an entry survives without access before it is
	// purged from both memory and its sidecar.
	DefaultTTL = 24 * time.Hour
)

// Cache is the bounded, TTL-evicting map from session_id to a live Engine
// handle. All methods are safe for concurrent use. A single mutex guards
// the whole structure rather than an RWMutex split, because every hit
// also refreshes recency and can trigger an LRU eviction — there is no
// read-only fast path once TTL refresh is accounted for.
type Cache struct {
	mu         sync.Mutex
	items      *lru.Cache[string, *SessionThread]
	objectRoot string
	ttl        time.Duration

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New builds a Cache capped at nMax entries, evicting to the sidecar
// directory under objectRoot on both capacity eviction and TTL expiry.
func New(nMax int, ttl time.Duration, objectRoot string) *Cache {
	if nMax <= 0 {
		nMax = DefaultNMax
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		objectRoot: objectRoot,
		ttl:        ttl,
		locks:      make(map[string]*sync.Mutex),
	}

	items, err := lru.NewWithEvict[string, *SessionThread](nMax, c.onEvict)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	c.items = items
	return c
}

// onEvict is invoked by the underlying LRU both on capacity eviction and
// on explicit Remove — Delete compensates for the latter by removing the
// sidecar right back off disk afterward.
func (c *Cache) onEvict(sessionID string, st *SessionThread) {
	writeSidecar(c.objectRoot, ThreadMetadata{
		ThreadID:     st.ThreadID,
		SessionID:    st.SessionID,
		WorkspaceID:  st.WorkspaceID,
		Created:      st.CreatedAt,
		LastAccessed: st.LastAccessed,
	})
}

// Get looks up session_id in memory first. A live hit refreshes recency
// and returns the handle. A miss falls back to the persisted sidecar: if
// found and not expired, MetadataOnly is set so the caller can log a
// restart-recovery notice, but no handle is returned (it cannot be
// reconstituted). Expired metadata is deleted.
func (c *Cache) Get(sessionID string) (LookupResult, error) {
	c.mu.Lock()
	if st, ok := c.items.Get(sessionID); ok {
		if time.Since(st.LastAccessed) > c.ttl {
			c.items.Remove(sessionID)
			c.mu.Unlock()
		} else {
			st.LastAccessed = time.Now().UTC()
			c.mu.Unlock()
			return LookupResult{Thread: st}, nil
		}
	} else {
		c.mu.Unlock()
	}

	meta, err := readSidecar(c.objectRoot, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("thread-cache: failed to read sidecar")
		return LookupResult{}, nil
	}
	if meta == nil {
		return LookupResult{}, nil
	}
	if time.Since(meta.Created) > c.ttl {
		removeSidecar(c.objectRoot, sessionID)
		return LookupResult{}, nil
	}
	return LookupResult{MetadataOnly: true}, nil
}

// Set inserts or replaces the live entry for session_id. CreatedAt is
// preserved across a replace so TTL accounting stays anchored to first
// creation, not the most recent reuse.
func (c *Cache) Set(sessionID string, handle Handle, workspaceID, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	created := now
	if existing, ok := c.items.Peek(sessionID); ok {
		created = existing.CreatedAt
	}

	c.items.Add(sessionID, &SessionThread{
		SessionID:    sessionID,
		ThreadID:     threadID,
		WorkspaceID:  workspaceID,
		Handle:       handle,
		CreatedAt:    created,
		LastAccessed: now,
	})
}

// Delete removes session_id from memory and best-effort removes its
// sidecar file (onEvict will have just rewritten it; this call undoes
// that so a deleted session leaves no trace).
func (c *Cache) Delete(sessionID string) {
	c.mu.Lock()
	c.items.Remove(sessionID)
	c.mu.Unlock()

	removeSidecar(c.objectRoot, sessionID)

	c.lockMu.Lock()
	delete(c.locks, sessionID)
	c.lockMu.Unlock()
}

// CleanupStale scans the sidecar directory and deletes files older than
// the cache's TTL (measured from Created, not LastAccessed). Wired to a
// periodic cron sweep in cmd/server.
func (c *Cache) CleanupStale() error {
	return cleanupStale(c.objectRoot, c.ttl)
}

// Len reports the number of live in-memory entries. Exposed for /health
// and /metrics reporting.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Clear empties the in-memory cache, running the dispose hook (and so
// rewriting each sidecar) for every entry as if it had been evicted
// normally. Sidecars on disk are otherwise untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}

// ActiveSession is the in-memory-only summary exposed by GET
// /sessions/active/list.
type ActiveSession struct {
	SessionID    string    `json:"session_id"`
	WorkspaceID  string    `json:"workspace_id"`
	ThreadID     string    `json:"thread_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// ListActive returns a snapshot of every live in-memory entry, newest
// access first.
func (c *Cache) ListActive() []ActiveSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.items.Keys()
	out := make([]ActiveSession, 0, len(keys))
	for _, k := range keys {
		st, ok := c.items.Peek(k)
		if !ok {
			continue
		}
		out = append(out, ActiveSession{
			SessionID:    st.SessionID,
			WorkspaceID:  st.WorkspaceID,
			ThreadID:     st.ThreadID,
			CreatedAt:    st.CreatedAt,
			LastAccessed: st.LastAccessed,
		})
	}
	return out
}

// SessionLock returns the per-session mutex used to serialize concurrent
// execute calls naming the same session_id: a second concurrent request
// on a live session waits rather than failing with 409. The execute
// handler holds it from the cache lookup until the request completes.
func (c *Cache) SessionLock(sessionID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	m, ok := c.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[sessionID] = m
	}
	return m
}
