package poster

import (
	"time"

	"autopost/internal/store"
)

// Outcome classifies a completed invocation.
type Outcome string

const (
	// OutcomePosted: exactly one slot was published.
	OutcomePosted Outcome = "posted"
	// OutcomeNoScheduledContent: nothing due, or every due slot was
	// claimed by a concurrent invocation. Benign.
	OutcomeNoScheduledContent Outcome = "no_scheduled_content"
	// OutcomeEmptySlot: a due slot has no content assigned. A
	// configuration signal, not an error; no claim is attempted.
	OutcomeEmptySlot Outcome = "empty_schedule_slot"
)

// Result is the outcome of one executor invocation.
type Result struct {
	Outcome   Outcome
	SlotID    int64
	ContentID int64
	Platform  store.Platform
	PostedAt  time.Time
}

// Options controls one executor instance.
type Options struct {
	// Grace is the tolerance around a slot's scheduled time within
	// which it is still considered due.
	Grace time.Duration
	// PublishTimeout bounds the publish call.
	PublishTimeout time.Duration
	// Enforce must be true for the executor to run at all.
	Enforce bool
}
