package gate

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/stewardlabs/governd/internal/fault"
)

// Store persists actions and their decision results.
//
// PutResult must refuse a second result for the same action so decisions
// stay exactly-once even if two deciders race.
type Store interface {
	PutAction(ctx context.Context, action Action) error
	GetAction(ctx context.Context, id string) (Action, bool, error)
	UpdateAction(ctx context.Context, action Action) error
	PendingActions(ctx context.Context, tenantID string) ([]Action, error)
	PutResult(ctx context.Context, result Result) error
	GetResult(ctx context.Context, actionID string) (Result, bool, error)
}

// MemoryStore is the in-process Store used when no external backend is
// configured.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]Action
	results map[string]Result
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[string]Action),
		results: make(map[string]Result),
	}
}

// PutAction stores a new action.
func (s *MemoryStore) PutAction(_ context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; exists {
		return fault.New(fault.CodeConflict, "action "+action.ID+" already exists")
	}
	s.actions[action.ID] = cloneAction(action)
	return nil
}

// GetAction returns the action with the given id.
func (s *MemoryStore) GetAction(_ context.Context, id string) (Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	if !ok {
		return Action{}, false, nil
	}
	return cloneAction(action), true, nil
}

// UpdateAction replaces a stored action.
func (s *MemoryStore) UpdateAction(_ context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; !exists {
		return fault.New(fault.CodeNotFound, "action "+action.ID+" not found")
	}
	s.actions[action.ID] = cloneAction(action)
	return nil
}

// PendingActions returns pending actions for a tenant, oldest first.
// An empty tenantID matches all tenants.
func (s *MemoryStore) PendingActions(_ context.Context, tenantID string) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Action
	for _, action := range s.actions {
		if action.Status != StatePending {
			continue
		}
		if tenantID != "" && action.TenantID != tenantID {
			continue
		}
		out = append(out, cloneAction(action))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PutResult stores a decision result, refusing duplicates.
func (s *MemoryStore) PutResult(_ context.Context, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.ActionID]; exists {
		return fault.New(fault.CodeConflict, "action "+result.ActionID+" already decided")
	}
	s.results[result.ActionID] = result
	return nil
}

// GetResult returns the decision result for an action.
func (s *MemoryStore) GetResult(_ context.Context, actionID string) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[actionID]
	return result, ok, nil
}

func cloneAction(a Action) Action {
	a.Proposed = maps.Clone(a.Proposed)
	a.ToolParams = maps.Clone(a.ToolParams)
	a.RequesterPermissions.Permissions = slices.Clone(a.RequesterPermissions.Permissions)
	a.RequesterPermissions.DataScopes = slices.Clone(a.RequesterPermissions.DataScopes)
	return a
}
