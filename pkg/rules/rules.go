// Package rules defines the maintenance rule data model: rules, their
// boolean criteria trees, and the actions they drive.
package rules

import (
	"time"
)

// MediaType identifies which kind of catalog item a rule evaluates.
type MediaType string

const (
	MediaTypeMovie    MediaType = "movie"
	MediaTypeTvSeries MediaType = "tv_series"
	MediaTypeEpisode  MediaType = "episode"
)

// Valid reports whether the media type is one of the known kinds.
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeMovie, MediaTypeTvSeries, MediaTypeEpisode:
		return true
	}
	return false
}

// ActionType is the side effect executed when a rule matches an item
// and the action delay has elapsed.
type ActionType string

const (
	// ActionFlagForReview records the match for operator review without
	// touching the media service.
	ActionFlagForReview ActionType = "flag_for_review"

	// ActionAutoDelete removes the item and its files from the media service.
	ActionAutoDelete ActionType = "auto_delete"

	// ActionUnmonitorAndDelete stops monitoring and removes files.
	ActionUnmonitorAndDelete ActionType = "unmonitor_and_delete"

	// ActionUnmonitorAndKeep stops monitoring but keeps files on disk.
	ActionUnmonitorAndKeep ActionType = "unmonitor_and_keep"

	// ActionDoNothing evaluates and audits but performs no side effect.
	ActionDoNothing ActionType = "do_nothing"
)

// Valid reports whether the action type is one of the known kinds.
func (a ActionType) Valid() bool {
	switch a {
	case ActionFlagForReview, ActionAutoDelete, ActionUnmonitorAndDelete,
		ActionUnmonitorAndKeep, ActionDoNothing:
		return true
	}
	return false
}

// BooleanOperator combines the conditions of a criteria tree.
type BooleanOperator string

const (
	OperatorAnd BooleanOperator = "and"
	OperatorOr  BooleanOperator = "or"
)

// ConditionKind discriminates the condition variants of a criteria tree.
type ConditionKind string

const (
	ConditionNeverWatched      ConditionKind = "never_watched"
	ConditionLastWatchedBefore ConditionKind = "last_watched_before"
	ConditionAddedBefore       ConditionKind = "added_before"
	ConditionMinFileSize       ConditionKind = "min_file_size"
	ConditionMaxPlayCount      ConditionKind = "max_play_count"
	ConditionMaxQuality        ConditionKind = "max_quality"
	ConditionMaxRating         ConditionKind = "max_rating"
	ConditionLibraryMembership ConditionKind = "library_membership"
)

// TimeUnit is the unit of a time-based condition value.
type TimeUnit string

const (
	UnitDays   TimeUnit = "days"
	UnitMonths TimeUnit = "months"
	UnitYears  TimeUnit = "years"
)

// SizeUnit is the unit of a size-based condition value.
type SizeUnit string

const (
	UnitMB SizeUnit = "MB"
	UnitGB SizeUnit = "GB"
	UnitTB SizeUnit = "TB"
)

// Condition is a single predicate over one media-item attribute.
// The populated parameter fields depend on Kind; the validator enforces
// the per-kind shape at save time so the evaluator never has to.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// Value carries the threshold for time, size, play-count and rating
	// conditions. Interpretation depends on Kind and the unit fields.
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`

	// TimeUnit qualifies Value for last_watched_before and added_before.
	TimeUnit TimeUnit `json:"time_unit,omitempty" yaml:"time_unit,omitempty"`

	// SizeUnit qualifies Value for min_file_size.
	SizeUnit SizeUnit `json:"size_unit,omitempty" yaml:"size_unit,omitempty"`

	// Quality is the threshold name for max_quality.
	Quality string `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Libraries is the identifier set for library_membership.
	Libraries []string `json:"libraries,omitempty" yaml:"libraries,omitempty"`
}

// Criteria is a boolean combination of conditions. The condition list is
// ordered; the evaluator honors the order for short-circuiting and traces.
type Criteria struct {
	Operator   BooleanOperator `json:"operator" yaml:"operator"`
	Conditions []Condition     `json:"conditions" yaml:"conditions"`
}

// Rule is an administrator-defined retention/cleanup policy over one
// media type. Rules are independent of each other; the engine never
// resolves conflicts between rules beyond first-eligible-wins execution.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`

	MediaType MediaType `json:"media_type" yaml:"media_type"`
	Criteria  Criteria  `json:"criteria" yaml:"criteria"`

	ActionType ActionType `json:"action_type" yaml:"action_type"`

	// ActionDelayDays is the grace period between the first observed
	// match and execution. Zero means immediately eligible.
	ActionDelayDays int `json:"action_delay_days,omitempty" yaml:"action_delay_days,omitempty"`

	// TargetServiceID binds the rule to one configured media service
	// instance. Empty means the active instance for the media type.
	TargetServiceID string `json:"target_service_id,omitempty" yaml:"target_service_id,omitempty"`

	// Schedule is a standard cron expression. Empty means the rule only
	// runs on demand.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`

	// LastTriggeredAt records when the scheduler last claimed a tick for
	// this rule. Used by ListDue to compute the next activation.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
}

// Scheduled reports whether the rule has a recurring schedule.
func (r *Rule) Scheduled() bool {
	return r.Schedule != ""
}

// Delay returns the action grace period as a duration of whole days.
func (r *Rule) Delay() time.Duration {
	if r.ActionDelayDays <= 0 {
		return 0
	}
	return time.Duration(r.ActionDelayDays) * 24 * time.Hour
}
