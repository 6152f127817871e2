package memory

import (
	"sync"
	"time"
)

type cacheEntry struct {
	session   *SessionContext
	expiresAt time.Time

	// lastAccessed tracks LRU eviction
	lastAccessed time.Time
}

// sessionCache is the in-process fallback tier for session context. It is
// warmed on every successful primary read and write so a session survives
// a backend outage mid-conversation. Entries are lost on process restart.
type sessionCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newSessionCache(ttl time.Duration, maxEntries int) *sessionCache {
	return &sessionCache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// set stores a deep copy of the session. At capacity the least recently
// used entry is evicted first.
func (c *sessionCache) set(session *SessionContext) {
	if session == nil || session.SessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[session.SessionID]; !exists {
			c.evictLRU()
		}
	}
	c.entries[session.SessionID] = &cacheEntry{
		session:      session.Clone(),
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
}

// get returns a deep copy of the cached session, or (nil, false) when the
// entry is absent or expired. Expired entries are removed on the way out.
func (c *sessionCache) get(sessionID string) (*SessionContext, bool) {
	c.mu.RLock()
	entry, exists := c.entries[sessionID]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, sessionID)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.lastAccessed = now
	session := entry.session.Clone()
	c.mu.Unlock()
	return session, true
}

func (c *sessionCache) delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

func (c *sessionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLRU removes the least recently used entry. Caller holds the write
// lock.
func (c *sessionCache) evictLRU() {
	var oldestID string
	var oldestTime time.Time
	first := true
	for id, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestID = id
			oldestTime = entry.lastAccessed
			first = false
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
