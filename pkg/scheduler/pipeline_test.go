package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian-hq/custodian/pkg/actions"
	actionstore "custodian-hq/custodian/pkg/actions/store"
	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/executor"
	"custodian-hq/custodian/pkg/planner"
	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/telemetry/metrics"
	"custodian-hq/custodian/pkg/telemetry/tracing"
)

// catalogStub serves a fixed listing and records destructive calls.
type catalogStub struct {
	listing    *catalog.Listing
	deleted    []string
	unmonitors []string
}

func (c *catalogStub) ListItems(context.Context, rules.MediaType, string) (*catalog.Listing, error) {
	return c.listing, nil
}

func (c *catalogStub) GetItem(context.Context, rules.MediaType, string, string) (*catalog.Snapshot, error) {
	return nil, nil
}

func (c *catalogStub) DeleteItem(_ context.Context, _ rules.MediaType, _ string, externalID string) error {
	c.deleted = append(c.deleted, externalID)
	return nil
}

func (c *catalogStub) UnmonitorItem(_ context.Context, _ rules.MediaType, _ string, externalID string) error {
	c.unmonitors = append(c.unmonitors, externalID)
	return nil
}

func passRule(delayDays int) *rules.Rule {
	return &rules.Rule{
		ID:        "rule-1",
		Name:      "never-watched",
		Enabled:   true,
		MediaType: rules.MediaTypeMovie,
		Criteria: rules.Criteria{
			Operator:   rules.OperatorAnd,
			Conditions: []rules.Condition{{Kind: rules.ConditionNeverWatched}},
		},
		ActionType:      rules.ActionAutoDelete,
		ActionDelayDays: delayDays,
	}
}

func snapshots() *catalog.Listing {
	zero, three := 0, 3
	return &catalog.Listing{
		Items: []catalog.Snapshot{
			{ExternalID: "101", Title: "Unseen", PlayCount: &zero},
			{ExternalID: "102", Title: "Watched", PlayCount: &three},
		},
	}
}

func newPipeline(gw catalog.Gateway, store actions.Store) *Pipeline {
	return NewPipeline(
		planner.New(gw, nil),
		actions.NewManager(store, nil),
		executor.New(gw, store, nil),
		nil,
	)
}

func TestRunPass_ZeroDelayExecutesImmediately(t *testing.T) {
	ctx := context.Background()
	gw := &catalogStub{listing: snapshots()}
	store := actionstore.NewMemoryStore()
	p := newPipeline(gw, store)

	summary, err := p.RunPass(ctx, passRule(0), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Items)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, []string{"101"}, gw.deleted)
	assert.Empty(t, summary.Decisions)

	live, err := store.FindLive(ctx, "rule-1", "101")
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestRunPass_DelayedActionWaits(t *testing.T) {
	ctx := context.Background()
	gw := &catalogStub{listing: snapshots()}
	store := actionstore.NewMemoryStore()
	p := newPipeline(gw, store)

	now := time.Now().UTC()
	summary, err := p.RunPass(ctx, passRule(7), now)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Executed)
	assert.Empty(t, gw.deleted)

	pending, err := store.FindLive(ctx, "rule-1", "101")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, actions.StateScheduled, pending.State)

	// A pass after the grace period promotes and executes.
	later := now.Add(8 * 24 * time.Hour)
	summary, err = p.RunPass(ctx, passRule(7), later)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, []string{"101"}, gw.deleted)
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func newMeteredPipeline(gw catalog.Gateway, store actions.Store, c *metrics.Collector) *Pipeline {
	return NewPipeline(
		planner.New(gw, nil),
		actions.NewManager(store, nil),
		executor.New(gw, store, nil).WithMetrics(c),
		nil,
	).WithMetrics(c)
}

func TestRunPass_RecordsLiveActionsGauge(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector(nil)
	gw := &catalogStub{listing: snapshots()}
	p := newMeteredPipeline(gw, actionstore.NewMemoryStore(), collector)

	// Delayed pass leaves one scheduled action live.
	_, err := p.RunPass(ctx, passRule(7), time.Now().UTC())
	require.NoError(t, err)

	body := scrape(t, collector)
	assert.Contains(t, body, `custodian_live_actions{state="scheduled"} 1`)
	assert.Contains(t, body, `custodian_action_transitions_total{state="scheduled"} 1`)
}

func TestRunPass_RecordsExecutedTransition(t *testing.T) {
	ctx := context.Background()
	collector := metrics.NewCollector(nil)
	gw := &catalogStub{listing: snapshots()}
	p := newMeteredPipeline(gw, actionstore.NewMemoryStore(), collector)

	_, err := p.RunPass(ctx, passRule(0), time.Now().UTC())
	require.NoError(t, err)

	body := scrape(t, collector)
	assert.Contains(t, body, `custodian_action_transitions_total{state="executed"} 1`)
	assert.Contains(t, body, `custodian_live_actions{state="scheduled"} 0`)
}

func TestRunPass_TracerAttached(t *testing.T) {
	ctx := context.Background()
	tr, err := tracing.New(ctx, tracing.Config{})
	require.NoError(t, err)

	gw := &catalogStub{listing: snapshots()}
	store := actionstore.NewMemoryStore()
	p := newPipeline(gw, store).WithTracer(tr)

	summary, err := p.RunPass(ctx, passRule(0), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
}

func TestDryRun_NoSideEffects(t *testing.T) {
	ctx := context.Background()
	gw := &catalogStub{listing: snapshots()}
	store := actionstore.NewMemoryStore()
	p := newPipeline(gw, store)

	summary, err := p.DryRun(ctx, passRule(0), time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Matched)
	require.Len(t, summary.Decisions, 2)
	assert.Empty(t, gw.deleted)

	all, err := store.List(ctx, actions.Query{RuleID: "rule-1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}
