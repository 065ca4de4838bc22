package health

import (
	"context"
	"time"

	"autopost/internal/metrics"
	"autopost/internal/store"
	logx "autopost/pkg/logx"
)

// Report is a read-only snapshot of the posting pipeline.
type Report struct {
	Healthy         bool       `json:"healthy"`
	PendingSlots    int        `json:"pending_slots"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	CheckedAt       time.Time  `json:"checked_at"`
}

type Reporter struct {
	slots store.SlotStore
	log   logx.Logger
	met   *metrics.Metrics
}

func NewReporter(slots store.SlotStore, log logx.Logger, met *metrics.Metrics) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{slots: slots, log: log, met: met}
}

// Report never fails: storage trouble is folded into the report itself
// so callers (HTTP handlers, monitors) always get an answer.
func (r *Reporter) Report(ctx context.Context, now time.Time) Report {
	rep := Report{CheckedAt: now}

	pending, err := r.slots.CountPending(ctx)
	if err != nil {
		rep.Error = err.Error()
		r.log.Warn("health check failed", logx.Err(err))
		return rep
	}
	rep.PendingSlots = pending
	if r.met != nil {
		r.met.PendingSlots.Set(float64(pending))
	}

	next, err := r.slots.NextPendingSlot(ctx, now)
	if err != nil {
		rep.Error = err.Error()
		r.log.Warn("health check failed", logx.Err(err))
		return rep
	}
	if next != nil {
		t := next.ScheduledAt
		rep.NextScheduledAt = &t
	}

	rep.Healthy = true
	return rep
}
