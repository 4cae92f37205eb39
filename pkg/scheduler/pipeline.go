package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"custodian-hq/custodian/pkg/actions"
	"custodian-hq/custodian/pkg/executor"
	"custodian-hq/custodian/pkg/planner"
	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/telemetry/metrics"
	"custodian-hq/custodian/pkg/telemetry/tracing"
)

// PassSummary reports what one rule pass did end to end.
type PassSummary struct {
	RuleID    string                   `json:"rule_id"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Items     int                      `json:"items"`
	Matched   int                      `json:"matched"`
	Degraded  bool                     `json:"degraded"`
	Reconcile *actions.ReconcileReport `json:"reconcile,omitempty"`
	Executed  int                      `json:"executed"`

	// Decisions is only populated on dry runs.
	Decisions []planner.Decision `json:"decisions,omitempty"`
}

// PassRunner executes one full rule pass.
type PassRunner interface {
	RunPass(ctx context.Context, rule *rules.Rule, now time.Time) (*PassSummary, error)
}

// Pipeline wires a rule pass end to end: plan, reconcile pending
// actions, then execute whatever is eligible.
type Pipeline struct {
	planner  *planner.Planner
	manager  *actions.Manager
	executor *executor.Executor
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
}

// NewPipeline assembles the pass pipeline.
func NewPipeline(p *planner.Planner, m *actions.Manager, e *executor.Executor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		planner:  p,
		manager:  m,
		executor: e,
		logger:   logger,
	}
}

// WithMetrics attaches a metrics collector and returns the pipeline.
func (p *Pipeline) WithMetrics(c *metrics.Collector) *Pipeline {
	p.metrics = c
	return p
}

// WithTracer attaches a tracer and returns the pipeline.
func (p *Pipeline) WithTracer(t *tracing.Tracer) *Pipeline {
	p.tracer = t
	return p
}

// RunPass performs one complete pass for the rule.
func (p *Pipeline) RunPass(ctx context.Context, rule *rules.Rule, now time.Time) (*PassSummary, error) {
	ctx, span := p.tracer.Start(ctx, "rule.pass", trace.WithAttributes(
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.name", rule.Name),
		attribute.String("media.type", string(rule.MediaType)),
	))
	defer span.End()

	start := time.Now()

	pass, err := p.planner.Plan(ctx, rule, now)
	if err != nil {
		span.RecordError(err)
		p.metrics.RecordPass(rule.ID, time.Since(start), true, false)
		return nil, err
	}
	for _, d := range pass.Decisions {
		p.metrics.RecordEvaluation(rule.ID, d.Matched)
	}

	report, err := p.manager.Reconcile(ctx, rule, pass, now)
	if err != nil {
		span.RecordError(err)
		p.metrics.RecordPass(rule.ID, time.Since(start), true, pass.Degraded)
		return nil, err
	}
	p.recordTransitions(report)

	eligible, err := p.manager.ListEligible(ctx, rule.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	executed, err := p.executor.ExecuteBatch(ctx, eligible)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary := &PassSummary{
		RuleID:    rule.ID,
		StartedAt: now,
		Duration:  time.Since(start),
		Items:     len(pass.Decisions),
		Matched:   countMatched(pass.Decisions),
		Degraded:  pass.Degraded,
		Reconcile: report,
		Executed:  executed,
	}
	p.metrics.RecordPass(rule.ID, summary.Duration, false, pass.Degraded)
	p.updateLiveActions(ctx)
	span.SetAttributes(
		attribute.Int("pass.items", summary.Items),
		attribute.Int("pass.matched", summary.Matched),
		attribute.Int("pass.executed", summary.Executed),
		attribute.Bool("pass.degraded", summary.Degraded),
	)

	p.logger.Info("rule pass completed",
		"rule_id", rule.ID,
		"items", summary.Items,
		"matched", summary.Matched,
		"executed", summary.Executed,
		"degraded", summary.Degraded,
		"duration", summary.Duration,
	)

	return summary, nil
}

// DryRun plans the pass and returns every decision without touching
// pending actions or the media service.
func (p *Pipeline) DryRun(ctx context.Context, rule *rules.Rule, now time.Time) (*PassSummary, error) {
	start := time.Now()

	pass, err := p.planner.Plan(ctx, rule, now)
	if err != nil {
		return nil, err
	}

	return &PassSummary{
		RuleID:    rule.ID,
		StartedAt: now,
		Duration:  time.Since(start),
		Items:     len(pass.Decisions),
		Matched:   countMatched(pass.Decisions),
		Degraded:  pass.Degraded,
		Decisions: pass.Decisions,
	}, nil
}

// updateLiveActions refreshes the live-action gauge after a pass.
func (p *Pipeline) updateLiveActions(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	counts, err := p.manager.CountLive(ctx)
	if err != nil {
		p.logger.Warn("failed to count live actions", "error", err)
		return
	}
	p.metrics.SetLiveActions(string(actions.StateScheduled), counts[actions.StateScheduled])
	p.metrics.SetLiveActions(string(actions.StateEligible), counts[actions.StateEligible])
}

func (p *Pipeline) recordTransitions(report *actions.ReconcileReport) {
	for i := 0; i < report.Created; i++ {
		p.metrics.RecordTransition(string(actions.StateScheduled))
	}
	for i := 0; i < report.Promoted; i++ {
		p.metrics.RecordTransition(string(actions.StateEligible))
	}
	for i := 0; i < report.Cancelled; i++ {
		p.metrics.RecordTransition(string(actions.StateCancelled))
	}
}

func countMatched(decisions []planner.Decision) int {
	n := 0
	for _, d := range decisions {
		if d.Matched {
			n++
		}
	}
	return n
}
