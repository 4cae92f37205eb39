// Package scheduler drives recurring and on-demand rule passes. Each
// scheduled rule gets its own cron entry; overlapping runs of the same
// rule are skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	rulestore "custodian-hq/custodian/pkg/rules/store"
)

// Scheduler owns the cron entries of scheduled rules and the per-rule
// run guard shared with manual triggers.
type Scheduler struct {
	store  rulestore.Store
	runner PassRunner
	logger *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]struct{}
	started bool
}

// New creates a scheduler over the rule store and pass runner.
func New(store rulestore.Store, runner PassRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]struct{}),
	}
}

// Start registers every enabled scheduled rule, runs the ones whose
// activation was missed while the process was down, and starts the
// cron loop. The scheduler stops itself when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	// Catch up on activations missed while down.
	due, err := s.store.ListDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, rule := range due {
		s.logger.Info("running missed activation", "rule_id", rule.ID, "rule_name", rule.Name)
		go s.tick(ctx, rule.ID)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "scheduled_rules", len(s.entries))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Refresh re-syncs cron entries with the rule store. Call after any
// rule create, update, enable/disable, or delete.
func (s *Scheduler) Refresh(ctx context.Context) error {
	all, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]string)
	for _, rule := range all {
		if rule.Enabled && rule.Scheduled() {
			wanted[rule.ID] = rule.Schedule
		}
	}

	for ruleID, entryID := range s.entries {
		if _, ok := wanted[ruleID]; !ok {
			s.cron.Remove(entryID)
			delete(s.entries, ruleID)
		}
	}

	for ruleID, schedule := range wanted {
		if entryID, ok := s.entries[ruleID]; ok {
			// Re-register in case the expression changed.
			s.cron.Remove(entryID)
		}
		id := ruleID
		entryID, err := s.cron.AddFunc(schedule, func() {
			s.tick(context.Background(), id)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule rule %s: %w", ruleID, err)
		}
		s.entries[ruleID] = entryID
	}

	return nil
}

// RunNow triggers one pass for the rule outside its schedule. It
// returns the pass summary, or an error when the rule is unknown,
// disabled, or already running.
func (s *Scheduler) RunNow(ctx context.Context, ruleID string) (*PassSummary, error) {
	rule, err := s.store.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.Enabled {
		return nil, fmt.Errorf("rule is disabled: %s", ruleID)
	}

	if !s.claim(ruleID) {
		return nil, &AlreadyRunningError{RuleID: ruleID}
	}
	defer s.release(ruleID)

	now := time.Now().UTC()
	if err := s.store.MarkTriggered(ctx, ruleID, now); err != nil {
		return nil, err
	}
	return s.runner.RunPass(ctx, rule, now)
}

// Stop halts the cron loop and waits for running jobs. The drain
// happens outside the mutex: a running pass must take it to release
// its run guard.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// tick runs one scheduled activation, skipping when a pass for the
// same rule is still in flight.
func (s *Scheduler) tick(ctx context.Context, ruleID string) {
	if !s.claim(ruleID) {
		s.logger.Warn("rule pass still running, skipping activation", "rule_id", ruleID)
		return
	}
	defer s.release(ruleID)

	rule, err := s.store.Get(ctx, ruleID)
	if err != nil {
		s.logger.Error("failed to load rule for scheduled pass", "rule_id", ruleID, "error", err)
		return
	}
	if !rule.Enabled {
		return
	}

	now := time.Now().UTC()
	if err := s.store.MarkTriggered(ctx, ruleID, now); err != nil {
		s.logger.Error("failed to mark rule triggered", "rule_id", ruleID, "error", err)
		return
	}

	if _, err := s.runner.RunPass(ctx, rule, now); err != nil {
		s.logger.Error("scheduled rule pass failed", "rule_id", ruleID, "error", err)
	}
}

func (s *Scheduler) claim(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.running[ruleID]; busy {
		return false
	}
	s.running[ruleID] = struct{}{}
	return true
}

func (s *Scheduler) release(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, ruleID)
}

// AlreadyRunningError means a pass for the rule is in flight and the
// trigger was skipped.
type AlreadyRunningError struct {
	RuleID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("rule pass already running: %s", e.RuleID)
}
