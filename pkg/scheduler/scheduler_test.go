package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custodian-hq/custodian/pkg/rules"
	rulestore "custodian-hq/custodian/pkg/rules/store"
)

// blockingRunner lets tests hold a pass open to exercise the skip
// guard.
type blockingRunner struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
}

func (r *blockingRunner) RunPass(ctx context.Context, rule *rules.Rule, now time.Time) (*PassSummary, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	return &PassSummary{RuleID: rule.ID, StartedAt: now}, nil
}

func (r *blockingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func seedRule(t *testing.T, s rulestore.Store, id, name, schedule string, enabled bool) {
	t.Helper()
	err := s.Create(context.Background(), &rules.Rule{
		ID:         id,
		Name:       name,
		Enabled:    enabled,
		MediaType:  rules.MediaTypeMovie,
		ActionType: rules.ActionDoNothing,
		Schedule:   schedule,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestRunNow_RunsAndMarksTriggered(t *testing.T) {
	ctx := context.Background()
	store := rulestore.NewMemoryStore()
	seedRule(t, store, "r-1", "daily", "0 3 * * *", true)
	runner := &blockingRunner{}
	s := New(store, runner, nil)

	summary, err := s.RunNow(ctx, "r-1")
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if summary.RuleID != "r-1" {
		t.Errorf("summary ruleID = %q, want r-1", summary.RuleID)
	}
	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1", runner.count())
	}

	rule, err := store.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rule.LastTriggeredAt == nil {
		t.Error("lastTriggeredAt not set after RunNow")
	}
}

func TestRunNow_DisabledRuleRejected(t *testing.T) {
	store := rulestore.NewMemoryStore()
	seedRule(t, store, "r-1", "off", "0 3 * * *", false)
	s := New(store, &blockingRunner{}, nil)

	if _, err := s.RunNow(context.Background(), "r-1"); err == nil {
		t.Fatal("RunNow() on disabled rule succeeded, want error")
	}
}

func TestRunNow_SkipsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	store := rulestore.NewMemoryStore()
	seedRule(t, store, "r-1", "daily", "0 3 * * *", true)
	runner := &blockingRunner{release: make(chan struct{})}
	s := New(store, runner, nil)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := s.RunNow(ctx, "r-1"); err != nil {
			t.Errorf("RunNow() error = %v", err)
		}
	}()

	// Wait until the first run is inside the runner.
	for i := 0; runner.count() == 0 && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}

	_, err := s.RunNow(ctx, "r-1")
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("RunNow() while in flight error = %v, want *AlreadyRunningError", err)
	}

	close(runner.release)
	<-firstDone

	if runner.count() != 1 {
		t.Errorf("runs = %d, want 1", runner.count())
	}
}

func TestStop_WaitsForRunningPassWithoutDeadlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := rulestore.NewMemoryStore()
	seedRule(t, store, "r-1", "fast", "@every 100ms", true)
	runner := &blockingRunner{release: make(chan struct{})}
	s := New(store, runner, nil)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait until a scheduled pass is inside the runner.
	for i := 0; runner.count() == 0 && i < 200; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if runner.count() == 0 {
		t.Fatal("scheduled pass never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Stop must wait for the pass, not return around it.
	select {
	case <-stopped:
		t.Fatal("Stop() returned while a pass was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(runner.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return after the running pass completed")
	}
}

func TestRefresh_SyncsEntries(t *testing.T) {
	ctx := context.Background()
	store := rulestore.NewMemoryStore()
	seedRule(t, store, "r-1", "daily", "0 3 * * *", true)
	seedRule(t, store, "r-2", "manual", "", true)
	seedRule(t, store, "r-3", "disabled", "0 4 * * *", false)
	s := New(store, &blockingRunner{}, nil)

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(s.entries) != 1 {
		t.Fatalf("entries = %d, want 1 (only enabled scheduled rules)", len(s.entries))
	}
	if _, ok := s.entries["r-1"]; !ok {
		t.Error("r-1 missing a cron entry")
	}

	// Disabling the rule drops its entry on the next refresh.
	rule, _ := store.Get(ctx, "r-1")
	rule.Enabled = false
	if err := store.Update(ctx, rule); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(s.entries) != 0 {
		t.Errorf("entries after disable = %d, want 0", len(s.entries))
	}
}
