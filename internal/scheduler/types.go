package scheduler

import (
	"time"

	"autopost/internal/config"
)

// Options controls one batch run.
type Options struct {
	// Days is the lookahead window.
	Days int
	// SlotTimes are the in-day posting times, ascending.
	SlotTimes []config.SlotTime
	// Location anchors days and slot times.
	Location *time.Location
	// Lookback is how far back posted history counts against a platform
	// when breaking ties.
	Lookback time.Duration
}

// DayResult reports what happened for a single day of the window.
type DayResult struct {
	Day      time.Time
	Assigned int
	// Skipped is set when the day already had every slot filled.
	Skipped bool
	// Spread is max-min of per-platform selection counts for the day.
	// Informational only.
	Spread int
	// Warning is set when the pool ran dry before the day was full.
	Warning string
}

// Result is the outcome of a batch run. Per-day storage failures land
// in Errors; days committed before a failure stay committed.
type Result struct {
	Scheduled int
	Days      []DayResult
	// NoContent is set when the pool had nothing eligible at all.
	NoContent bool
	Message   string
	Errors    []error
}
