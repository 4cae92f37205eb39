// Package store persists maintenance rules. Two backends are provided:
// a SQLite backend for durable single-instance deployments and an
// in-memory backend for tests and ephemeral runs.
package store

import (
	"context"
	"fmt"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// Store is the persistence contract for maintenance rules.
type Store interface {
	// Create persists a new rule. The rule's ID must already be set; the
	// store assigns CreatedAt/UpdatedAt. Fails with *ConflictError when a
	// rule with the same name exists.
	Create(ctx context.Context, rule *rules.Rule) error

	// Get returns the rule with the given ID, or *NotFoundError.
	Get(ctx context.Context, id string) (*rules.Rule, error)

	// GetByName returns the rule with the given name, or *NotFoundError.
	GetByName(ctx context.Context, name string) (*rules.Rule, error)

	// Update replaces the stored rule. CreatedAt is preserved, UpdatedAt
	// is advanced. Fails with *NotFoundError for unknown IDs.
	Update(ctx context.Context, rule *rules.Rule) error

	// Delete removes the rule with the given ID, or *NotFoundError.
	Delete(ctx context.Context, id string) error

	// List returns all rules ordered by name.
	List(ctx context.Context) ([]*rules.Rule, error)

	// ListDue returns the enabled, scheduled rules whose next activation
	// after their last trigger (or creation) is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*rules.Rule, error)

	// MarkTriggered records that the scheduler claimed a tick for the
	// rule at the given time.
	MarkTriggered(ctx context.Context, id string, at time.Time) error

	// Close releases backend resources.
	Close() error
}

// NotFoundError indicates that no rule matched the lookup key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule not found: %s", e.Key)
}

// ConflictError indicates a uniqueness violation on the rule name.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rule name already in use: %s", e.Name)
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("rule storage error [operation=%s]: %v", e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
