// Package actions manages the lifecycle of pending maintenance actions:
// the grace-period records created when a rule first matches an item,
// promoted to eligibility once the delay elapses, and handed to the
// executor. Execution results form an append-only audit trail.
package actions

import (
	"context"
	"fmt"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// State is the lifecycle state of a pending action.
type State string

const (
	// StateScheduled means the rule matched but the action delay has not
	// elapsed yet.
	StateScheduled State = "scheduled"

	// StateEligible means the delay elapsed and the item still matched
	// on re-evaluation; the executor may pick it up.
	StateEligible State = "eligible"

	// StateExecuted means the side effect completed successfully.
	StateExecuted State = "executed"

	// StateCancelled means the item stopped matching, disappeared from
	// the catalog, or an operator intervened before execution.
	StateCancelled State = "cancelled"

	// StateFailed means the executor ran out of attempts.
	StateFailed State = "failed"
)

// Live reports whether the action can still change state.
func (s State) Live() bool {
	return s == StateScheduled || s == StateEligible
}

// CancelReason records why a pending action was cancelled.
type CancelReason string

const (
	ReasonNoLongerMatched CancelReason = "no_longer_matched"
	ReasonItemRemoved     CancelReason = "item_removed"
	ReasonRuleDisabled    CancelReason = "rule_disabled"
	ReasonRuleDeleted     CancelReason = "rule_deleted"
	ReasonOperator        CancelReason = "operator"
)

// PendingAction tracks one (rule, media item) pair from first match to
// terminal state. The pair is a natural key: at most one live action
// exists per pair at any time.
type PendingAction struct {
	ID string `json:"id"`

	RuleID          string           `json:"rule_id"`
	MediaType       rules.MediaType  `json:"media_type"`
	MediaExternalID string           `json:"media_external_id"`
	MediaTitle      string           `json:"media_title"`
	ServiceID       string           `json:"service_id"`
	ActionType      rules.ActionType `json:"action_type"`

	State        State        `json:"state"`
	CancelReason CancelReason `json:"cancel_reason,omitempty"`

	// FirstMatchedAt is when the rule first matched this item. It does
	// not move on re-matches; the delay counts from here.
	FirstMatchedAt time.Time `json:"first_matched_at"`

	// EligibleAt is FirstMatchedAt plus the rule's action delay.
	EligibleAt time.Time `json:"eligible_at"`

	// LastReevaluatedAt is when a rule pass last confirmed the match.
	LastReevaluatedAt time.Time `json:"last_reevaluated_at"`

	// Attempts counts executor attempts across all runs.
	Attempts int `json:"attempts"`

	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionResult is one executor attempt against a pending action.
// Results are append-only; retries append further rows.
type ExecutionResult struct {
	ID              string           `json:"id"`
	ActionID        string           `json:"action_id"`
	RuleID          string           `json:"rule_id"`
	MediaExternalID string           `json:"media_external_id"`
	ActionType      rules.ActionType `json:"action_type"`
	Attempt         int              `json:"attempt"`
	Success         bool             `json:"success"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ExecutedAt      time.Time        `json:"executed_at"`
}

// Query filters pending-action and result listings.
type Query struct {
	RuleID          string
	MediaExternalID string
	States          []State
	Since           time.Time
	Until           time.Time
	Limit           int
	Offset          int
}

// Store is the persistence contract for pending actions and their
// execution results. Implementations live in the store subpackage.
type Store interface {
	// Save inserts or replaces a pending action by ID.
	Save(ctx context.Context, action *PendingAction) error

	// Get returns the action with the given ID, or *NotFoundError.
	Get(ctx context.Context, id string) (*PendingAction, error)

	// FindLive returns the single live action for a (rule, item) pair,
	// or nil when none exists.
	FindLive(ctx context.Context, ruleID, mediaExternalID string) (*PendingAction, error)

	// ListLiveByRule returns all live actions for a rule.
	ListLiveByRule(ctx context.Context, ruleID string) ([]*PendingAction, error)

	// List returns actions matching the query, newest first.
	List(ctx context.Context, q Query) ([]*PendingAction, error)

	// AppendResult records one executor attempt.
	AppendResult(ctx context.Context, result *ExecutionResult) error

	// ListResults returns execution results matching the query, newest
	// first.
	ListResults(ctx context.Context, q Query) ([]*ExecutionResult, error)

	// Close releases backend resources.
	Close() error
}

// NotFoundError indicates no pending action matched the lookup key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pending action not found: %s", e.Key)
}

// TransitionError indicates an attempted state change the lifecycle
// does not permit.
type TransitionError struct {
	ActionID string
	From     State
	To       State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition [action=%s]: %s -> %s", e.ActionID, e.From, e.To)
}

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("action storage error [operation=%s]: %v", e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}
