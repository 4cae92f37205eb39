package actions

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"custodian-hq/custodian/pkg/planner"
	"custodian-hq/custodian/pkg/rules"
)

// Manager reconciles rule-pass decisions against the pending-action
// lifecycle. Reconcile is idempotent: replaying the same pass leaves
// the store unchanged.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a manager over the given action store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// ReconcileReport summarizes what one reconcile pass changed.
type ReconcileReport struct {
	Created   int `json:"created"`
	Promoted  int `json:"promoted"`
	Cancelled int `json:"cancelled"`
	Refreshed int `json:"refreshed"`
}

// Reconcile applies one rule pass to the pending actions of that rule.
// It processes cancellations first, then promotions, then creations, so
// an item that stopped matching is released before anything new is
// admitted in the same pass.
//
// On degraded passes the watch-activity data was unavailable, so a
// non-match may only mean missing data. Cancellation for
// no-longer-matched is skipped on those passes; removal of the item
// from the catalog is still honored.
func (m *Manager) Reconcile(ctx context.Context, rule *rules.Rule, pass *planner.Pass, now time.Time) (*ReconcileReport, error) {
	live, err := m.store.ListLiveByRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]*planner.Decision, len(pass.Decisions))
	for i := range pass.Decisions {
		decisions[pass.Decisions[i].MediaExternalID] = &pass.Decisions[i]
	}

	report := &ReconcileReport{}

	// Cancellations
	for _, action := range live {
		decision, present := decisions[action.MediaExternalID]
		switch {
		case !present:
			if err := m.cancel(ctx, action, ReasonItemRemoved, now); err != nil {
				return nil, err
			}
			report.Cancelled++
		case !decision.Matched && !pass.Degraded:
			if err := m.cancel(ctx, action, ReasonNoLongerMatched, now); err != nil {
				return nil, err
			}
			report.Cancelled++
		}
	}

	// Promotions and re-evaluation refresh for surviving live actions
	for _, action := range live {
		if !action.State.Live() {
			continue
		}
		decision, present := decisions[action.MediaExternalID]
		if !present || !decision.Matched {
			continue
		}

		action.LastReevaluatedAt = now
		if action.State == StateScheduled && !action.EligibleAt.After(now) {
			action.State = StateEligible
			report.Promoted++
		} else {
			report.Refreshed++
		}
		action.UpdatedAt = now
		if err := m.store.Save(ctx, action); err != nil {
			return nil, err
		}
	}

	// Creations
	for _, decision := range pass.Decisions {
		if !decision.Matched {
			continue
		}
		existing, err := m.store.FindLive(ctx, rule.ID, decision.MediaExternalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		action := &PendingAction{
			ID:                uuid.NewString(),
			RuleID:            rule.ID,
			MediaType:         rule.MediaType,
			MediaExternalID:   decision.MediaExternalID,
			MediaTitle:        decision.MediaTitle,
			ServiceID:         decision.ServiceID,
			ActionType:        rule.ActionType,
			State:             StateScheduled,
			FirstMatchedAt:    now,
			EligibleAt:        now.Add(rule.Delay()),
			LastReevaluatedAt: now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if !action.EligibleAt.After(now) {
			action.State = StateEligible
		}

		if err := m.store.Save(ctx, action); err != nil {
			return nil, err
		}
		report.Created++
	}

	m.logger.Info("pending actions reconciled",
		"rule_id", rule.ID,
		"created", report.Created,
		"promoted", report.Promoted,
		"cancelled", report.Cancelled,
		"refreshed", report.Refreshed,
	)

	return report, nil
}

// Cancel terminates a live action on operator request.
func (m *Manager) Cancel(ctx context.Context, id string, reason CancelReason) error {
	action, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !action.State.Live() {
		return &TransitionError{ActionID: id, From: action.State, To: StateCancelled}
	}
	return m.cancel(ctx, action, reason, time.Now().UTC())
}

// CancelAllForRule terminates every live action of a rule, used when a
// rule is disabled or deleted.
func (m *Manager) CancelAllForRule(ctx context.Context, ruleID string, reason CancelReason) (int, error) {
	live, err := m.store.ListLiveByRule(ctx, ruleID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	cancelled := 0
	for _, action := range live {
		if err := m.cancel(ctx, action, reason, now); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// ListEligible returns the eligible actions of a rule, oldest first, so
// the executor works through the backlog in arrival order.
func (m *Manager) ListEligible(ctx context.Context, ruleID string) ([]*PendingAction, error) {
	live, err := m.store.ListLiveByRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	var eligible []*PendingAction
	for _, action := range live {
		if action.State == StateEligible {
			eligible = append(eligible, action)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].EligibleAt.Before(eligible[j].EligibleAt)
	})
	return eligible, nil
}

// CountLive counts live actions per state across all rules, paging
// through the store's result window.
func (m *Manager) CountLive(ctx context.Context) (map[State]int, error) {
	counts := make(map[State]int, 2)
	q := Query{States: []State{StateScheduled, StateEligible}, Limit: 500}
	for offset := 0; ; offset += q.Limit {
		q.Offset = offset
		page, err := m.store.List(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, action := range page {
			counts[action.State]++
		}
		if len(page) < q.Limit {
			return counts, nil
		}
	}
}

func (m *Manager) cancel(ctx context.Context, action *PendingAction, reason CancelReason, now time.Time) error {
	action.State = StateCancelled
	action.CancelReason = reason
	t := now
	action.CancelledAt = &t
	action.UpdatedAt = now

	if err := m.store.Save(ctx, action); err != nil {
		return err
	}

	m.logger.Info("pending action cancelled",
		"action_id", action.ID,
		"rule_id", action.RuleID,
		"media_external_id", action.MediaExternalID,
		"reason", reason,
	)
	return nil
}
