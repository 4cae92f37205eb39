// Package validator checks rule definitions at save time so the
// evaluator never sees a malformed rule. Validation failures are
// accumulated and reported together.
package validator

import (
	"fmt"
	"math"

	"github.com/robfig/cron/v3"

	"custodian-hq/custodian/pkg/engine"
	"custodian-hq/custodian/pkg/rules"
)

// conditionMediaTypes holds which media types each condition kind is
// legal for. Series carry no single quality, and episode ratings are not
// populated by the catalog, so those combinations are rejected up front.
var conditionMediaTypes = map[rules.ConditionKind]map[rules.MediaType]bool{
	rules.ConditionNeverWatched:      allMediaTypes(),
	rules.ConditionLastWatchedBefore: allMediaTypes(),
	rules.ConditionAddedBefore:       allMediaTypes(),
	rules.ConditionMaxPlayCount:      allMediaTypes(),
	rules.ConditionLibraryMembership: allMediaTypes(),
	rules.ConditionMinFileSize:       allMediaTypes(),
	rules.ConditionMaxQuality: {
		rules.MediaTypeMovie:   true,
		rules.MediaTypeEpisode: true,
	},
	rules.ConditionMaxRating: {
		rules.MediaTypeMovie:    true,
		rules.MediaTypeTvSeries: true,
	},
}

func allMediaTypes() map[rules.MediaType]bool {
	return map[rules.MediaType]bool{
		rules.MediaTypeMovie:    true,
		rules.MediaTypeTvSeries: true,
		rules.MediaTypeEpisode:  true,
	}
}

// Validate checks a complete rule definition. It returns an *ErrorList
// describing every problem found, or nil if the rule is valid.
func Validate(rule *rules.Rule) error {
	el := NewErrorList()

	if rule == nil {
		el.Add("rule", "rule cannot be nil")
		return el.ToError()
	}

	if rule.Name == "" {
		el.AddWithSuggestion("name", "name is required", "give the rule a unique human-readable name")
	}

	if !rule.MediaType.Valid() {
		el.Add("media_type", "unknown media type %q (must be movie, tv_series or episode)", rule.MediaType)
	}

	if !rule.ActionType.Valid() {
		el.Add("action_type", "unknown action type %q", rule.ActionType)
	}

	if rule.ActionDelayDays < 0 {
		el.Add("action_delay_days", "delay must be non-negative, got %d", rule.ActionDelayDays)
	}

	if rule.Schedule != "" {
		if _, err := cron.ParseStandard(rule.Schedule); err != nil {
			el.Add("schedule", "invalid cron expression %q: %v", rule.Schedule, err)
		}
	}

	validateCriteria(el, rule.MediaType, &rule.Criteria)

	return el.ToError()
}

// ValidateCriteria checks a criteria tree against a media type without
// requiring a full rule. Used by the preview endpoint.
func ValidateCriteria(mediaType rules.MediaType, criteria *rules.Criteria) error {
	el := NewErrorList()
	if !mediaType.Valid() {
		el.Add("media_type", "unknown media type %q", mediaType)
	}
	validateCriteria(el, mediaType, criteria)
	return el.ToError()
}

func validateCriteria(el *ErrorList, mediaType rules.MediaType, criteria *rules.Criteria) {
	switch criteria.Operator {
	case rules.OperatorAnd, rules.OperatorOr:
	default:
		el.Add("criteria.operator", "operator must be %q or %q, got %q",
			rules.OperatorAnd, rules.OperatorOr, criteria.Operator)
	}

	// An empty condition list would otherwise match everything, which is
	// never what an operator meant. Reject at save time.
	if len(criteria.Conditions) == 0 {
		el.AddWithSuggestion("criteria.conditions", "criteria must contain at least one condition",
			"add a condition such as never_watched or added_before")
		return
	}

	for i := range criteria.Conditions {
		validateCondition(el, mediaType, i, &criteria.Conditions[i])
	}
}

func validateCondition(el *ErrorList, mediaType rules.MediaType, index int, cond *rules.Condition) {
	field := fmt.Sprintf("criteria.conditions[%d]", index)

	legal, known := conditionMediaTypes[cond.Kind]
	if !known {
		el.Add(field, "unknown condition kind %q", cond.Kind)
		return
	}
	if mediaType.Valid() && !legal[mediaType] {
		el.Add(field, "condition %q is not applicable to media type %q", cond.Kind, mediaType)
	}

	switch cond.Kind {
	case rules.ConditionNeverWatched:
		// No parameters.

	case rules.ConditionLastWatchedBefore, rules.ConditionAddedBefore:
		if cond.Value <= 0 || cond.Value != math.Trunc(cond.Value) {
			el.Add(field, "%s requires a positive whole-number value, got %v", cond.Kind, cond.Value)
		}
		switch cond.TimeUnit {
		case rules.UnitDays, rules.UnitMonths, rules.UnitYears:
		default:
			el.Add(field, "%s requires a time unit of days, months or years, got %q", cond.Kind, cond.TimeUnit)
		}

	case rules.ConditionMinFileSize:
		if cond.Value <= 0 {
			el.Add(field, "min_file_size requires a positive value, got %v", cond.Value)
		}
		switch cond.SizeUnit {
		case rules.UnitMB, rules.UnitGB, rules.UnitTB:
		default:
			el.Add(field, "min_file_size requires a size unit of MB, GB or TB, got %q", cond.SizeUnit)
		}

	case rules.ConditionMaxPlayCount:
		if cond.Value < 0 || cond.Value != math.Trunc(cond.Value) {
			el.Add(field, "max_play_count requires a non-negative integer, got %v", cond.Value)
		}

	case rules.ConditionMaxQuality:
		if cond.Quality == "" {
			el.Add(field, "max_quality requires a quality name")
		} else if !engine.KnownQuality(cond.Quality) {
			el.AddWithSuggestion(field,
				fmt.Sprintf("unknown quality %q", cond.Quality),
				fmt.Sprintf("known qualities: %v", engine.QualityNames()))
		}

	case rules.ConditionMaxRating:
		if cond.Value < 0 || cond.Value > 10 {
			el.Add(field, "max_rating must be within [0, 10], got %v", cond.Value)
		}

	case rules.ConditionLibraryMembership:
		if len(cond.Libraries) == 0 {
			el.Add(field, "library_membership requires at least one library identifier")
		}
		for j, lib := range cond.Libraries {
			if lib == "" {
				el.Add(field, "library identifier at index %d is empty", j)
			}
		}
	}
}
