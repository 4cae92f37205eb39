package engine

import (
	"reflect"
	"testing"
	"time"

	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/rules"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int            { return &v }
func int64Ptr(v int64) *int64      { return &v }
func floatPtr(v float64) *float64  { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func TestEvaluate_SingleConditions(t *testing.T) {
	tests := []struct {
		name      string
		condition rules.Condition
		snapshot  catalog.Snapshot
		wantMatch bool
	}{
		{
			name:      "never watched - zero plays",
			condition: rules.Condition{Kind: rules.ConditionNeverWatched},
			snapshot:  catalog.Snapshot{PlayCount: intPtr(0)},
			wantMatch: true,
		},
		{
			name:      "never watched - has plays",
			condition: rules.Condition{Kind: rules.ConditionNeverWatched},
			snapshot:  catalog.Snapshot{PlayCount: intPtr(2), LastWatchedAt: timePtr(daysAgo(10))},
			wantMatch: false,
		},
		{
			name:      "never watched - watch data missing",
			condition: rules.Condition{Kind: rules.ConditionNeverWatched},
			snapshot:  catalog.Snapshot{},
			wantMatch: false,
		},
		{
			name:      "last watched before - old enough",
			condition: rules.Condition{Kind: rules.ConditionLastWatchedBefore, Value: 6, TimeUnit: rules.UnitMonths},
			snapshot:  catalog.Snapshot{LastWatchedAt: timePtr(daysAgo(200)), PlayCount: intPtr(1)},
			wantMatch: true,
		},
		{
			name:      "last watched before - too recent",
			condition: rules.Condition{Kind: rules.ConditionLastWatchedBefore, Value: 1, TimeUnit: rules.UnitYears},
			snapshot:  catalog.Snapshot{LastWatchedAt: timePtr(daysAgo(100)), PlayCount: intPtr(1)},
			wantMatch: false,
		},
		{
			name:      "last watched before - never watched does not match",
			condition: rules.Condition{Kind: rules.ConditionLastWatchedBefore, Value: 30, TimeUnit: rules.UnitDays},
			snapshot:  catalog.Snapshot{PlayCount: intPtr(0)},
			wantMatch: false,
		},
		{
			name:      "added before - boundary inclusive",
			condition: rules.Condition{Kind: rules.ConditionAddedBefore, Value: 365, TimeUnit: rules.UnitDays},
			snapshot:  catalog.Snapshot{AddedAt: daysAgo(365)},
			wantMatch: true,
		},
		{
			name:      "added before - below threshold",
			condition: rules.Condition{Kind: rules.ConditionAddedBefore, Value: 365, TimeUnit: rules.UnitDays},
			snapshot:  catalog.Snapshot{AddedAt: daysAgo(364)},
			wantMatch: false,
		},
		{
			name:      "min file size - exact binary GB",
			condition: rules.Condition{Kind: rules.ConditionMinFileSize, Value: 1, SizeUnit: rules.UnitGB},
			snapshot:  catalog.Snapshot{FileSizeBytes: int64Ptr(1_073_741_824)},
			wantMatch: true,
		},
		{
			name:      "min file size - larger than threshold",
			condition: rules.Condition{Kind: rules.ConditionMinFileSize, Value: 1, SizeUnit: rules.UnitGB},
			snapshot:  catalog.Snapshot{FileSizeBytes: int64Ptr(2_000_000_000)},
			wantMatch: true,
		},
		{
			name:      "min file size - below threshold",
			condition: rules.Condition{Kind: rules.ConditionMinFileSize, Value: 1, SizeUnit: rules.UnitGB},
			snapshot:  catalog.Snapshot{FileSizeBytes: int64Ptr(500_000_000)},
			wantMatch: false,
		},
		{
			name:      "min file size - size unavailable",
			condition: rules.Condition{Kind: rules.ConditionMinFileSize, Value: 1, SizeUnit: rules.UnitMB},
			snapshot:  catalog.Snapshot{},
			wantMatch: false,
		},
		{
			name:      "max play count - within limit",
			condition: rules.Condition{Kind: rules.ConditionMaxPlayCount, Value: 2},
			snapshot:  catalog.Snapshot{PlayCount: intPtr(2)},
			wantMatch: true,
		},
		{
			name:      "max play count - over limit",
			condition: rules.Condition{Kind: rules.ConditionMaxPlayCount, Value: 2},
			snapshot:  catalog.Snapshot{PlayCount: intPtr(3)},
			wantMatch: false,
		},
		{
			name:      "max quality - lower rank matches",
			condition: rules.Condition{Kind: rules.ConditionMaxQuality, Quality: "WEBDL-1080p"},
			snapshot:  catalog.Snapshot{Quality: "HDTV-720p"},
			wantMatch: true,
		},
		{
			name:      "max quality - equal rank matches",
			condition: rules.Condition{Kind: rules.ConditionMaxQuality, Quality: "WEBDL-1080p"},
			snapshot:  catalog.Snapshot{Quality: "WEBDL-1080p"},
			wantMatch: true,
		},
		{
			name:      "max quality - higher rank does not match",
			condition: rules.Condition{Kind: rules.ConditionMaxQuality, Quality: "WEBDL-1080p"},
			snapshot:  catalog.Snapshot{Quality: "Remux-2160p"},
			wantMatch: false,
		},
		{
			name:      "max quality - unrecognized quality string",
			condition: rules.Condition{Kind: rules.ConditionMaxQuality, Quality: "WEBDL-1080p"},
			snapshot:  catalog.Snapshot{Quality: "Telecine"},
			wantMatch: false,
		},
		{
			name:      "max rating - within threshold",
			condition: rules.Condition{Kind: rules.ConditionMaxRating, Value: 5.0},
			snapshot:  catalog.Snapshot{Rating: floatPtr(4.2)},
			wantMatch: true,
		},
		{
			name:      "max rating - missing rating is no match, not an error",
			condition: rules.Condition{Kind: rules.ConditionMaxRating, Value: 5.0},
			snapshot:  catalog.Snapshot{},
			wantMatch: false,
		},
		{
			name:      "library membership - member",
			condition: rules.Condition{Kind: rules.ConditionLibraryMembership, Libraries: []string{"kids", "4k"}},
			snapshot:  catalog.Snapshot{LibraryID: "4k"},
			wantMatch: true,
		},
		{
			name:      "library membership - not a member",
			condition: rules.Condition{Kind: rules.ConditionLibraryMembership, Libraries: []string{"kids"}},
			snapshot:  catalog.Snapshot{LibraryID: "main"},
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			criteria := &rules.Criteria{
				Operator:   rules.OperatorAnd,
				Conditions: []rules.Condition{tt.condition},
			}

			result := Evaluate(criteria, &tt.snapshot, testNow)

			if result.Matched != tt.wantMatch {
				t.Errorf("Evaluate() matched = %v, want %v (trace: %+v)", result.Matched, tt.wantMatch, result.Trace)
			}
			if len(result.Trace) != 1 {
				t.Fatalf("Evaluate() trace length = %d, want 1", len(result.Trace))
			}
			wantOutcome := OutcomeNotMatched
			if tt.wantMatch {
				wantOutcome = OutcomeMatched
			}
			if result.Trace[0].Outcome != wantOutcome {
				t.Errorf("trace outcome = %q, want %q", result.Trace[0].Outcome, wantOutcome)
			}
		})
	}
}

func TestEvaluate_AndShortCircuit(t *testing.T) {
	// First condition fails, so the later conditions must be recorded
	// as not_evaluated even though they would match.
	criteria := &rules.Criteria{
		Operator: rules.OperatorAnd,
		Conditions: []rules.Condition{
			{Kind: rules.ConditionNeverWatched},
			{Kind: rules.ConditionAddedBefore, Value: 1, TimeUnit: rules.UnitDays},
			{Kind: rules.ConditionMaxPlayCount, Value: 100},
		},
	}
	snap := &catalog.Snapshot{
		PlayCount:     intPtr(5),
		LastWatchedAt: timePtr(daysAgo(2)),
		AddedAt:       daysAgo(400),
	}

	result := Evaluate(criteria, snap, testNow)

	if result.Matched {
		t.Fatal("Evaluate() matched = true, want false")
	}
	if got := result.Trace[0].Outcome; got != OutcomeNotMatched {
		t.Errorf("trace[0] = %q, want %q", got, OutcomeNotMatched)
	}
	for i := 1; i < 3; i++ {
		if got := result.Trace[i].Outcome; got != OutcomeNotEvaluated {
			t.Errorf("trace[%d] = %q, want %q", i, got, OutcomeNotEvaluated)
		}
	}
}

func TestEvaluate_OrShortCircuit(t *testing.T) {
	criteria := &rules.Criteria{
		Operator: rules.OperatorOr,
		Conditions: []rules.Condition{
			{Kind: rules.ConditionAddedBefore, Value: 100, TimeUnit: rules.UnitDays},
			{Kind: rules.ConditionNeverWatched},
		},
	}
	snap := &catalog.Snapshot{AddedAt: daysAgo(200), PlayCount: intPtr(3)}

	result := Evaluate(criteria, snap, testNow)

	if !result.Matched {
		t.Fatal("Evaluate() matched = false, want true")
	}
	if got := result.Trace[1].Outcome; got != OutcomeNotEvaluated {
		t.Errorf("trace[1] = %q, want %q", got, OutcomeNotEvaluated)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	criteria := &rules.Criteria{
		Operator: rules.OperatorAnd,
		Conditions: []rules.Condition{
			{Kind: rules.ConditionNeverWatched},
			{Kind: rules.ConditionAddedBefore, Value: 1, TimeUnit: rules.UnitYears},
			{Kind: rules.ConditionMinFileSize, Value: 2, SizeUnit: rules.UnitGB},
		},
	}
	snap := &catalog.Snapshot{
		PlayCount:     intPtr(0),
		AddedAt:       daysAgo(400),
		FileSizeBytes: int64Ptr(3 << 30),
	}

	first := Evaluate(criteria, snap, testNow)
	for i := 0; i < 10; i++ {
		again := Evaluate(criteria, snap, testNow)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Evaluate() not deterministic: run %d gave %+v, first run gave %+v", i, again, first)
		}
	}
	if !first.Matched {
		t.Error("Evaluate() matched = false, want true")
	}
}

func TestEvaluate_EmptyCriteriaVacuous(t *testing.T) {
	// The validator rejects empty criteria at save time; the evaluator's
	// behavior for them is still pinned so a bug upstream cannot turn
	// into a match-everything rule silently going through OR.
	snap := &catalog.Snapshot{}

	and := Evaluate(&rules.Criteria{Operator: rules.OperatorAnd}, snap, testNow)
	if !and.Matched {
		t.Error("empty AND should be vacuously true")
	}
	or := Evaluate(&rules.Criteria{Operator: rules.OperatorOr}, snap, testNow)
	if or.Matched {
		t.Error("empty OR should be vacuously false")
	}
}

func TestQualityNames_Ordered(t *testing.T) {
	names := QualityNames()
	if len(names) != len(qualityRank) {
		t.Fatalf("QualityNames() returned %d names, table has %d", len(names), len(qualityRank))
	}
	for i := 1; i < len(names); i++ {
		if qualityRank[names[i-1]] >= qualityRank[names[i]] {
			t.Errorf("quality order broken at %q >= %q", names[i-1], names[i])
		}
	}
}
