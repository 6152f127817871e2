package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemorySessionStore is the in-process session tier used when no Redis
// backend is configured.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionContext
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*SessionContext)}
}

// Get returns a copy of the stored context, or (nil, nil) when unknown.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*SessionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return session.Clone(), nil
}

// Set stores a copy of the whole context, last write wins.
func (s *MemorySessionStore) Set(_ context.Context, session *SessionContext) error {
	if session == nil || session.SessionID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

// Clear removes a session. Unknown ids are a no-op.
func (s *MemorySessionStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Ping always succeeds.
func (s *MemorySessionStore) Ping(context.Context) error { return nil }

// MemoryPreferenceStore is the in-process preference tier.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

// NewMemoryPreferenceStore creates an empty preference store.
func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]Preferences)}
}

func prefKey(userID, tenantID string) string {
	return tenantID + "/" + userID
}

// Get returns the stored preferences, or (nil, nil) when the user has
// none.
func (s *MemoryPreferenceStore) Get(_ context.Context, userID, tenantID string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[prefKey(userID, tenantID)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Update stores the full preference set for the user.
func (s *MemoryPreferenceStore) Update(_ context.Context, userID, tenantID string, prefs Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefKey(userID, tenantID)] = prefs
	return nil
}

// Ping always succeeds.
func (s *MemoryPreferenceStore) Ping(context.Context) error { return nil }

// MemoryEpisodeStore is the in-process episodic tier.
type MemoryEpisodeStore struct {
	mu       sync.RWMutex
	episodes []Episode
}

// NewMemoryEpisodeStore creates an empty episode store.
func NewMemoryEpisodeStore() *MemoryEpisodeStore {
	return &MemoryEpisodeStore{}
}

// Append stores the episode, assigning an id when the caller left it
// empty, and returns the stored record.
func (s *MemoryEpisodeStore) Append(_ context.Context, ep Episode) (Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, ep)
	return ep, nil
}

// Query returns matching episodes newest first.
func (s *MemoryEpisodeStore) Query(_ context.Context, filter EpisodeFilter) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, 0)
	for i := len(s.episodes) - 1; i >= 0; i-- {
		ep := s.episodes[i]
		if filter.UserID != "" && ep.UserID != filter.UserID {
			continue
		}
		if filter.TenantID != "" && ep.TenantID != filter.TenantID {
			continue
		}
		if filter.Kind != "" && ep.Kind != filter.Kind {
			continue
		}
		out = append(out, ep)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryEpisodeStore) Ping(context.Context) error { return nil }

// Len reports how many episodes are stored.
func (s *MemoryEpisodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}
