// Package executor carries out eligible pending actions against the
// media service, with bounded retries and an append-only result trail.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"custodian-hq/custodian/pkg/actions"
	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/catalog/servarr"
	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/telemetry/metrics"
)

const (
	// maxAttempts bounds retries per execution run, counting the first
	// try.
	maxAttempts = 3

	initialBackoff    = 500 * time.Millisecond
	backoffMultiplier = 2.0
)

// transienter is implemented by errors that know whether a retry could
// succeed.
type transienter interface {
	Transient() bool
}

// Executor performs the side effects of eligible pending actions.
// Executions of the same (rule, item) pair are serialized; different
// pairs may run concurrently.
type Executor struct {
	gateway catalog.Gateway
	store   actions.Store
	logger  *slog.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	locks map[string]*pairLock
}

// pairLock serializes executions of one (rule, item) pair. Entries are
// refcounted and dropped when the last holder releases, so the map
// does not grow with every pair ever executed.
type pairLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an executor over the catalog gateway and action store.
func New(gateway catalog.Gateway, store actions.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		gateway: gateway,
		store:   store,
		logger:  logger,
		locks:   make(map[string]*pairLock),
	}
}

// WithMetrics attaches a metrics collector and returns the executor.
func (e *Executor) WithMetrics(c *metrics.Collector) *Executor {
	e.metrics = c
	return e
}

// Execute runs one eligible action to a terminal state: executed on
// success, failed when attempts are exhausted or the error is
// permanent. Every attempt is recorded as an execution result.
func (e *Executor) Execute(ctx context.Context, action *actions.PendingAction) error {
	key := action.RuleID + "\x00" + action.MediaExternalID
	lock := e.acquirePair(key)
	defer e.releasePair(key, lock)

	// Re-read under the lock; a concurrent run may have finished it.
	current, err := e.store.Get(ctx, action.ID)
	if err != nil {
		return err
	}
	if current.State != actions.StateEligible {
		return &actions.TransitionError{ActionID: current.ID, From: current.State, To: actions.StateExecuted}
	}
	action = current

	// Audit-only action types complete without touching the media
	// service.
	if action.ActionType == rules.ActionFlagForReview || action.ActionType == rules.ActionDoNothing {
		now := time.Now().UTC()
		action.Attempts++
		if err := e.recordAttempt(ctx, action, nil, now); err != nil {
			return err
		}
		return e.finish(ctx, action, actions.StateExecuted, now)
	}

	policy := backoff.WithContext(newBackOff(), ctx)

	var attemptErr error
	operation := func() error {
		now := time.Now().UTC()
		action.Attempts++
		attemptErr = e.perform(ctx, action)
		if err := e.recordAttempt(ctx, action, attemptErr, now); err != nil {
			return backoff.Permanent(err)
		}
		if attemptErr == nil {
			return nil
		}
		if !isTransient(attemptErr) {
			return backoff.Permanent(attemptErr)
		}
		return attemptErr
	}

	retryErr := backoff.Retry(operation, backoff.WithMaxRetries(policy, maxAttempts-1))

	now := time.Now().UTC()
	if retryErr == nil {
		return e.finish(ctx, action, actions.StateExecuted, now)
	}

	e.logger.Error("action execution failed",
		"action_id", action.ID,
		"rule_id", action.RuleID,
		"media_external_id", action.MediaExternalID,
		"action_type", action.ActionType,
		"attempts", action.Attempts,
		"error", retryErr,
	)
	return e.finish(ctx, action, actions.StateFailed, now)
}

// ExecuteBatch runs every given eligible action in order, continuing
// past individual failures. It returns the number of successful
// executions and the first error encountered while persisting state.
func (e *Executor) ExecuteBatch(ctx context.Context, batch []*actions.PendingAction) (int, error) {
	executed := 0
	for _, action := range batch {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		if err := e.Execute(ctx, action); err != nil {
			var transition *actions.TransitionError
			if errors.As(err, &transition) {
				continue
			}
			return executed, err
		}
		final, err := e.store.Get(ctx, action.ID)
		if err != nil {
			return executed, err
		}
		if final.State == actions.StateExecuted {
			executed++
		}
	}
	return executed, nil
}

// perform issues the side effect for one attempt.
func (e *Executor) perform(ctx context.Context, action *actions.PendingAction) error {
	switch action.ActionType {
	case rules.ActionAutoDelete:
		return e.delete(ctx, action)
	case rules.ActionUnmonitorAndDelete:
		if err := e.unmonitor(ctx, action); err != nil {
			return err
		}
		return e.delete(ctx, action)
	case rules.ActionUnmonitorAndKeep:
		return e.unmonitor(ctx, action)
	default:
		return fmt.Errorf("unsupported action type: %s", action.ActionType)
	}
}

func (e *Executor) delete(ctx context.Context, action *actions.PendingAction) error {
	err := e.gateway.DeleteItem(ctx, action.MediaType, action.ServiceID, action.MediaExternalID)
	if alreadyGone(err) {
		return nil
	}
	return err
}

func (e *Executor) unmonitor(ctx context.Context, action *actions.PendingAction) error {
	err := e.gateway.UnmonitorItem(ctx, action.MediaType, action.ServiceID, action.MediaExternalID)
	if alreadyGone(err) {
		return nil
	}
	return err
}

func (e *Executor) recordAttempt(ctx context.Context, action *actions.PendingAction, attemptErr error, at time.Time) error {
	result := &actions.ExecutionResult{
		ID:              uuid.NewString(),
		ActionID:        action.ID,
		RuleID:          action.RuleID,
		MediaExternalID: action.MediaExternalID,
		ActionType:      action.ActionType,
		Attempt:         action.Attempts,
		Success:         attemptErr == nil,
		ExecutedAt:      at,
	}
	if attemptErr != nil {
		result.ErrorMessage = attemptErr.Error()
	}
	if err := e.store.AppendResult(ctx, result); err != nil {
		return err
	}
	e.metrics.RecordExecutorAttempt(string(action.ActionType), attemptErr == nil)

	action.UpdatedAt = at
	return e.store.Save(ctx, action)
}

func (e *Executor) finish(ctx context.Context, action *actions.PendingAction, state actions.State, at time.Time) error {
	action.State = state
	action.UpdatedAt = at
	if state == actions.StateExecuted {
		t := at
		action.ExecutedAt = &t
		e.logger.Info("action executed",
			"action_id", action.ID,
			"rule_id", action.RuleID,
			"media_external_id", action.MediaExternalID,
			"action_type", action.ActionType,
			"attempts", action.Attempts,
		)
	}
	if err := e.store.Save(ctx, action); err != nil {
		return err
	}
	e.metrics.RecordTransition(string(state))
	return nil
}

func (e *Executor) acquirePair(key string) *pairLock {
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &pairLock{}
		e.locks[key] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (e *Executor) releasePair(key string, lock *pairLock) {
	lock.mu.Unlock()

	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.locks, key)
	}
	e.mu.Unlock()
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// isTransient classifies an attempt error. Typed errors decide for
// themselves; anything unclassified is retried rather than abandoned.
func isTransient(err error) bool {
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return true
}

// alreadyGone reports whether the media service answered 404, meaning
// the item disappeared between evaluation and execution. The desired
// end state is reached, so the attempt counts as a success.
func alreadyGone(err error) bool {
	var apiErr *servarr.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
