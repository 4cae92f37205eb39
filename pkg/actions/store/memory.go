package store

import (
	"context"
	"sort"
	"sync"

	"custodian-hq/custodian/pkg/actions"
)

// MemoryStore implements actions.Store with in-memory maps, for tests
// and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*actions.PendingAction
	results []*actions.ExecutionResult
}

// NewMemoryStore creates an empty in-memory action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[string]*actions.PendingAction),
	}
}

// Save inserts or replaces a pending action by ID.
func (s *MemoryStore) Save(_ context.Context, action *actions.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *action
	s.actions[action.ID] = &clone
	return nil
}

// Get returns the action with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, ok := s.actions[id]
	if !ok {
		return nil, &actions.NotFoundError{Key: id}
	}
	clone := *action
	return &clone, nil
}

// FindLive returns the live action for a (rule, item) pair, or nil.
func (s *MemoryStore) FindLive(_ context.Context, ruleID, mediaExternalID string) (*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, action := range s.actions {
		if action.RuleID == ruleID && action.MediaExternalID == mediaExternalID && action.State.Live() {
			clone := *action
			return &clone, nil
		}
	}
	return nil, nil
}

// ListLiveByRule returns all live actions for a rule, oldest match first.
func (s *MemoryStore) ListLiveByRule(_ context.Context, ruleID string) ([]*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*actions.PendingAction
	for _, action := range s.actions {
		if action.RuleID == ruleID && action.State.Live() {
			clone := *action
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstMatchedAt.Before(out[j].FirstMatchedAt)
	})
	return out, nil
}

// List returns actions matching the query, newest first.
func (s *MemoryStore) List(_ context.Context, q actions.Query) ([]*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*actions.PendingAction
	for _, action := range s.actions {
		if matchesQuery(action, q) {
			clone := *action
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return paginate(out, q), nil
}

// AppendResult records one executor attempt.
func (s *MemoryStore) AppendResult(_ context.Context, result *actions.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *result
	s.results = append(s.results, &clone)
	return nil
}

// ListResults returns execution results matching the query, newest first.
func (s *MemoryStore) ListResults(_ context.Context, q actions.Query) ([]*actions.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*actions.ExecutionResult
	for _, r := range s.results {
		if q.RuleID != "" && r.RuleID != q.RuleID {
			continue
		}
		if q.MediaExternalID != "" && r.MediaExternalID != q.MediaExternalID {
			continue
		}
		if !q.Since.IsZero() && r.ExecutedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.ExecutedAt.After(q.Until) {
			continue
		}
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return paginate(out, q), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func matchesQuery(a *actions.PendingAction, q actions.Query) bool {
	if q.RuleID != "" && a.RuleID != q.RuleID {
		return false
	}
	if q.MediaExternalID != "" && a.MediaExternalID != q.MediaExternalID {
		return false
	}
	if len(q.States) > 0 {
		found := false
		for _, state := range q.States {
			if a.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.Since.IsZero() && a.UpdatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && a.UpdatedAt.After(q.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, q actions.Query) []T {
	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	if q.Offset >= len(items) {
		return nil
	}
	items = items[q.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
