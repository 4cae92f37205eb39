// Package engine implements the criteria evaluator: a pure function
// from a criteria tree and a media-item snapshot to a match decision
// with a per-condition trace. Evaluation performs no I/O and is
// referentially transparent; the pending-action manager relies on that
// for its re-validation step.
package engine

import (
	"fmt"
	"time"

	"custodian-hq/custodian/pkg/catalog"
	"custodian-hq/custodian/pkg/rules"
)

// Outcome records the result of one condition within a trace.
type Outcome string

const (
	// OutcomeMatched means the condition was evaluated and held.
	OutcomeMatched Outcome = "matched"

	// OutcomeNotMatched means the condition was evaluated and did not
	// hold. Missing snapshot fields land here, never in an error.
	OutcomeNotMatched Outcome = "not_matched"

	// OutcomeNotEvaluated means an earlier condition already determined
	// the combinator's result and this one was short-circuited past.
	OutcomeNotEvaluated Outcome = "not_evaluated"
)

// ConditionOutcome is one entry of an evaluation trace.
type ConditionOutcome struct {
	Index   int                 `json:"index"`
	Kind    rules.ConditionKind `json:"kind"`
	Outcome Outcome             `json:"outcome"`

	// Detail is a short human-readable explanation, recorded for
	// explainability only. Control flow never depends on it.
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of evaluating a criteria tree against one item.
type Result struct {
	Matched bool               `json:"matched"`
	Trace   []ConditionOutcome `json:"trace"`
}

// Evaluate runs the criteria tree against a snapshot. now is supplied
// by the caller so evaluation is deterministic; it is the reference
// point for all time-based conditions.
//
// AND short-circuits on the first false condition, OR on the first true
// one; trailing conditions are recorded in the trace as not_evaluated.
func Evaluate(criteria *rules.Criteria, snap *catalog.Snapshot, now time.Time) Result {
	trace := make([]ConditionOutcome, 0, len(criteria.Conditions))

	decided := false
	matched := criteria.Operator == rules.OperatorAnd // AND vacuously true, OR vacuously false

	for i := range criteria.Conditions {
		cond := &criteria.Conditions[i]

		if decided {
			trace = append(trace, ConditionOutcome{
				Index:   i,
				Kind:    cond.Kind,
				Outcome: OutcomeNotEvaluated,
			})
			continue
		}

		hold, detail := evalCondition(cond, snap, now)

		outcome := OutcomeNotMatched
		if hold {
			outcome = OutcomeMatched
		}
		trace = append(trace, ConditionOutcome{
			Index:   i,
			Kind:    cond.Kind,
			Outcome: outcome,
			Detail:  detail,
		})

		switch criteria.Operator {
		case rules.OperatorAnd:
			if !hold {
				matched = false
				decided = true
			}
		case rules.OperatorOr:
			if hold {
				matched = true
				decided = true
			}
		}
	}

	return Result{Matched: matched, Trace: trace}
}

// evalCondition evaluates a single condition. A snapshot field that the
// condition needs but the gateway could not supply yields (false, ...),
// by design: a rule must never act on data it does not have.
func evalCondition(cond *rules.Condition, snap *catalog.Snapshot, now time.Time) (bool, string) {
	switch cond.Kind {
	case rules.ConditionNeverWatched:
		if snap.PlayCount == nil {
			return false, "watch data unavailable"
		}
		if snap.NeverWatched() {
			return true, "no recorded plays"
		}
		return false, fmt.Sprintf("played %d time(s)", *snap.PlayCount)

	case rules.ConditionLastWatchedBefore:
		if snap.LastWatchedAt == nil {
			return false, "no recorded last watch"
		}
		threshold := normalizeDays(cond.Value, cond.TimeUnit)
		age := wholeDaysSince(now, *snap.LastWatchedAt)
		return age >= threshold, fmt.Sprintf("last watched %d day(s) ago, threshold %d", age, threshold)

	case rules.ConditionAddedBefore:
		threshold := normalizeDays(cond.Value, cond.TimeUnit)
		age := wholeDaysSince(now, snap.AddedAt)
		return age >= threshold, fmt.Sprintf("added %d day(s) ago, threshold %d", age, threshold)

	case rules.ConditionMinFileSize:
		if snap.FileSizeBytes == nil {
			return false, "file size unavailable"
		}
		threshold := normalizeBytes(cond.Value, cond.SizeUnit)
		return *snap.FileSizeBytes >= threshold,
			fmt.Sprintf("size %d bytes, threshold %d", *snap.FileSizeBytes, threshold)

	case rules.ConditionMaxPlayCount:
		if snap.PlayCount == nil {
			return false, "watch data unavailable"
		}
		limit := int(cond.Value)
		return *snap.PlayCount <= limit, fmt.Sprintf("played %d time(s), limit %d", *snap.PlayCount, limit)

	case rules.ConditionMaxQuality:
		if snap.Quality == "" {
			return false, "quality unavailable"
		}
		if !KnownQuality(snap.Quality) {
			return false, fmt.Sprintf("unrecognized quality %q", snap.Quality)
		}
		return qualityAtMost(snap.Quality, cond.Quality),
			fmt.Sprintf("quality %s, threshold %s", snap.Quality, cond.Quality)

	case rules.ConditionMaxRating:
		if snap.Rating == nil {
			return false, "rating unavailable"
		}
		return *snap.Rating <= cond.Value, fmt.Sprintf("rating %.1f, threshold %.1f", *snap.Rating, cond.Value)

	case rules.ConditionLibraryMembership:
		for _, lib := range cond.Libraries {
			if snap.LibraryID == lib {
				return true, fmt.Sprintf("member of library %s", lib)
			}
		}
		return false, fmt.Sprintf("library %s not in set", snap.LibraryID)

	default:
		// The validator rejects unknown kinds at save time; treat a
		// stray one as non-matching rather than failing the pass.
		return false, fmt.Sprintf("unknown condition kind %q", cond.Kind)
	}
}
