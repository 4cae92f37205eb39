package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// backends returns every Store implementation under test.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func sampleRule(id, name string) *rules.Rule {
	return &rules.Rule{
		ID:        id,
		Name:      name,
		Enabled:   true,
		MediaType: rules.MediaTypeMovie,
		Criteria: rules.Criteria{
			Operator: rules.OperatorAnd,
			Conditions: []rules.Condition{
				{Kind: rules.ConditionNeverWatched},
				{Kind: rules.ConditionAddedBefore, Value: 1, TimeUnit: rules.UnitYears},
			},
		},
		ActionType:      rules.ActionFlagForReview,
		ActionDelayDays: 7,
		Schedule:        "0 3 * * *",
	}
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rule := sampleRule("r-1", "stale movies")

			if err := s.Create(ctx, rule); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := s.Get(ctx, "r-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Name != rule.Name {
				t.Errorf("Get() name = %q, want %q", got.Name, rule.Name)
			}
			if got.MediaType != rules.MediaTypeMovie {
				t.Errorf("Get() mediaType = %q, want movie", got.MediaType)
			}
			if len(got.Criteria.Conditions) != 2 {
				t.Errorf("Get() conditions = %d, want 2", len(got.Criteria.Conditions))
			}
			if got.Criteria.Conditions[1].TimeUnit != rules.UnitYears {
				t.Errorf("Get() condition unit = %q, want years", got.Criteria.Conditions[1].TimeUnit)
			}
			if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
				t.Error("Get() timestamps not set")
			}
			if got.LastTriggeredAt != nil {
				t.Error("Get() lastTriggeredAt should be nil for a fresh rule")
			}

			byName, err := s.GetByName(ctx, "stale movies")
			if err != nil {
				t.Fatalf("GetByName() error = %v", err)
			}
			if byName.ID != "r-1" {
				t.Errorf("GetByName() id = %q, want r-1", byName.ID)
			}
		})
	}
}

func TestStore_DuplicateNameRejected(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.Create(ctx, sampleRule("r-1", "same name")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			err := s.Create(ctx, sampleRule("r-2", "same name"))
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Create() error = %v, want *ConflictError", err)
			}
		})
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rule := sampleRule("r-1", "before")
			if err := s.Create(ctx, rule); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			rule.Name = "after"
			rule.Enabled = false
			if err := s.Update(ctx, rule); err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			got, err := s.Get(ctx, "r-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Name != "after" || got.Enabled {
				t.Errorf("Update() not applied: name=%q enabled=%v", got.Name, got.Enabled)
			}

			if err := s.Delete(ctx, "r-1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			_, err = s.Get(ctx, "r-1")
			var notFound *NotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("Get() after delete error = %v, want *NotFoundError", err)
			}

			err = s.Update(ctx, sampleRule("r-missing", "ghost"))
			if !errors.As(err, &notFound) {
				t.Fatalf("Update() of missing rule error = %v, want *NotFoundError", err)
			}
		})
	}
}

func TestStore_ListOrderedByName(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, r := range []*rules.Rule{
				sampleRule("r-1", "zebra"),
				sampleRule("r-2", "alpha"),
				sampleRule("r-3", "mango"),
			} {
				if err := s.Create(ctx, r); err != nil {
					t.Fatalf("Create(%s) error = %v", r.Name, err)
				}
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := []string{"alpha", "mango", "zebra"}
			if len(list) != len(want) {
				t.Fatalf("List() returned %d rules, want %d", len(list), len(want))
			}
			for i, n := range want {
				if list[i].Name != n {
					t.Errorf("List()[%d].Name = %q, want %q", i, list[i].Name, n)
				}
			}
		})
	}
}

func TestStore_ListDueAndMarkTriggered(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			daily := sampleRule("r-daily", "daily")
			daily.Schedule = "0 3 * * *"

			manual := sampleRule("r-manual", "manual only")
			manual.Schedule = ""

			disabled := sampleRule("r-off", "disabled")
			disabled.Enabled = false

			for _, r := range []*rules.Rule{daily, manual, disabled} {
				if err := s.Create(ctx, r); err != nil {
					t.Fatalf("Create(%s) error = %v", r.Name, err)
				}
			}

			// Two days past creation the daily schedule has fired.
			now := time.Now().UTC().Add(48 * time.Hour)
			due, err := s.ListDue(ctx, now)
			if err != nil {
				t.Fatalf("ListDue() error = %v", err)
			}
			if len(due) != 1 || due[0].ID != "r-daily" {
				t.Fatalf("ListDue() = %+v, want only r-daily", due)
			}

			if err := s.MarkTriggered(ctx, "r-daily", now); err != nil {
				t.Fatalf("MarkTriggered() error = %v", err)
			}

			// Immediately after the claimed tick nothing is due.
			due, err = s.ListDue(ctx, now.Add(time.Minute))
			if err != nil {
				t.Fatalf("ListDue() error = %v", err)
			}
			if len(due) != 0 {
				t.Fatalf("ListDue() after MarkTriggered = %+v, want none", due)
			}

			got, err := s.Get(ctx, "r-daily")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.LastTriggeredAt == nil {
				t.Fatal("Get() lastTriggeredAt still nil after MarkTriggered")
			}
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.Create(ctx, sampleRule("r-1", "persistent")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.Name != "persistent" {
		t.Errorf("Get() name = %q, want persistent", got.Name)
	}
}
