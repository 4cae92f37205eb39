package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// MemoryStore implements Store with an in-memory map. It is used in
// tests and for ephemeral runs where durability is not wanted.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*rules.Rule
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*rules.Rule),
	}
}

// Create persists a new rule.
func (s *MemoryStore) Create(_ context.Context, rule *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rules {
		if existing.Name == rule.Name {
			return &ConflictError{Name: rule.Name}
		}
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// Get returns the rule with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, &NotFoundError{Key: id}
	}
	return cloneRule(rule), nil
}

// GetByName returns the rule with the given name.
func (s *MemoryStore) GetByName(_ context.Context, name string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		if rule.Name == name {
			return cloneRule(rule), nil
		}
	}
	return nil, &NotFoundError{Key: name}
}

// Update replaces the stored rule.
func (s *MemoryStore) Update(_ context.Context, rule *rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return &NotFoundError{Key: rule.ID}
	}
	for _, other := range s.rules {
		if other.ID != rule.ID && other.Name == rule.Name {
			return &ConflictError{Name: rule.Name}
		}
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	rule.LastTriggeredAt = existing.LastTriggeredAt

	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// Delete removes the rule with the given ID.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return &NotFoundError{Key: id}
	}
	delete(s.rules, id)
	return nil
}

// List returns all rules ordered by name.
func (s *MemoryStore) List(_ context.Context) ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*rules.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListDue returns the enabled, scheduled rules due at or before now.
func (s *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]*rules.Rule, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var due []*rules.Rule
	for _, rule := range all {
		if ruleDue(rule, now) {
			due = append(due, rule)
		}
	}
	return due, nil
}

// MarkTriggered records the scheduler's claim of a tick for the rule.
func (s *MemoryStore) MarkTriggered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return &NotFoundError{Key: id}
	}
	t := at.UTC()
	rule.LastTriggeredAt = &t
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRule(r *rules.Rule) *rules.Rule {
	out := *r
	out.Criteria.Conditions = make([]rules.Condition, len(r.Criteria.Conditions))
	copy(out.Criteria.Conditions, r.Criteria.Conditions)
	for i, c := range out.Criteria.Conditions {
		if c.Libraries != nil {
			libs := make([]string, len(c.Libraries))
			copy(libs, c.Libraries)
			out.Criteria.Conditions[i].Libraries = libs
		}
	}
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		out.LastTriggeredAt = &t
	}
	return &out
}
