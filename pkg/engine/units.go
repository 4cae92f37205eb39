package engine

import (
	"time"

	"custodian-hq/custodian/pkg/rules"
)

// Time units normalize to whole days before comparison. Months and
// years are fixed-length so that identical inputs always evaluate
// identically regardless of calendar position.
const (
	daysPerMonth = 30
	daysPerYear  = 365
)

// Size units are binary, matching how media managers report file sizes.
const (
	bytesPerMB int64 = 1 << 20
	bytesPerGB int64 = 1 << 30
	bytesPerTB int64 = 1 << 40
)

// normalizeDays converts a time condition value to whole days.
func normalizeDays(value float64, unit rules.TimeUnit) int {
	v := int(value)
	switch unit {
	case rules.UnitMonths:
		return v * daysPerMonth
	case rules.UnitYears:
		return v * daysPerYear
	default:
		return v
	}
}

// normalizeBytes converts a size condition value to bytes.
func normalizeBytes(value float64, unit rules.SizeUnit) int64 {
	switch unit {
	case rules.UnitGB:
		return int64(value * float64(bytesPerGB))
	case rules.UnitTB:
		return int64(value * float64(bytesPerTB))
	default:
		return int64(value * float64(bytesPerMB))
	}
}

// wholeDaysSince returns the number of complete 24h periods between t
// and now. Negative when t is in the future.
func wholeDaysSince(now, t time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}
