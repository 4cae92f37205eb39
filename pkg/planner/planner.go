// Package planner turns one rule pass into a list of per-item decisions.
// It pulls the catalog listing for the rule's media type, evaluates the
// rule's criteria against every item, and hands the decisions to the
// pending-action manager. The planner itself never touches state.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/engine"
	"custodian-hq/custodian/pkg/rules"
)

// Decision is the evaluation outcome for one catalog item during one
// rule pass. Non-matches are kept so the reconciler can cancel pending
// actions whose item stopped matching.
type Decision struct {
	RuleID          string                   `json:"rule_id"`
	MediaExternalID string                   `json:"media_external_id"`
	MediaTitle      string                   `json:"media_title"`
	ServiceID       string                   `json:"service_id"`
	Matched         bool                     `json:"matched"`
	EvaluatedAt     time.Time                `json:"evaluated_at"`
	Trace           []engine.ConditionOutcome `json:"trace,omitempty"`
}

// Pass is the result of planning one rule run.
type Pass struct {
	RuleID    string
	Decisions []Decision

	// Degraded means the watch-activity side of the catalog was
	// unavailable and watch fields were missing on every snapshot.
	Degraded bool
}

// PlanError indicates the pass could not produce decisions at all,
// typically because the media service itself was unreachable.
type PlanError struct {
	RuleID string
	Cause  error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan failed [rule=%s]: %v", e.RuleID, e.Cause)
}

func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Planner evaluates rules against catalog listings.
type Planner struct {
	gateway catalog.Gateway
	logger  *slog.Logger
}

// New creates a planner over the given catalog gateway.
func New(gateway catalog.Gateway, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		gateway: gateway,
		logger:  logger,
	}
}

// Plan evaluates the rule against every item of its media type and
// returns one decision per item, matches and non-matches alike. A
// listing failure aborts the pass for this rule only.
func (p *Planner) Plan(ctx context.Context, rule *rules.Rule, now time.Time) (*Pass, error) {
	listing, err := p.gateway.ListItems(ctx, rule.MediaType, rule.TargetServiceID)
	if err != nil {
		return nil, &PlanError{RuleID: rule.ID, Cause: err}
	}

	if listing.Degraded {
		p.logger.Warn("catalog listing degraded, watch data unavailable",
			"rule_id", rule.ID,
			"media_type", rule.MediaType,
			"items", len(listing.Items),
		)
	}

	pass := &Pass{
		RuleID:    rule.ID,
		Decisions: make([]Decision, 0, len(listing.Items)),
		Degraded:  listing.Degraded,
	}

	matched := 0
	for i := range listing.Items {
		item := &listing.Items[i]
		result := engine.Evaluate(&rule.Criteria, item, now)
		if result.Matched {
			matched++
		}
		pass.Decisions = append(pass.Decisions, Decision{
			RuleID:          rule.ID,
			MediaExternalID: item.ExternalID,
			MediaTitle:      item.Title,
			ServiceID:       listing.ServiceID,
			Matched:         result.Matched,
			EvaluatedAt:     now,
			Trace:           result.Trace,
		})
	}

	p.logger.Info("rule pass planned",
		"rule_id", rule.ID,
		"media_type", rule.MediaType,
		"items", len(pass.Decisions),
		"matched", matched,
		"degraded", pass.Degraded,
	)

	return pass, nil
}
