package poster

import (
	"context"
	"fmt"
	"time"

	"autopost/internal/metrics"
	"autopost/internal/publisher"
	"autopost/internal/store"
	logx "autopost/pkg/logx"
)

type Executor struct {
	slots store.SlotStore
	pool  store.ContentPool
	pub   publisher.Publisher
	log   logx.Logger
	met   *metrics.Metrics
	opts  Options
}

func New(slots store.SlotStore, pool store.ContentPool, pub publisher.Publisher, opts Options, log logx.Logger, met *metrics.Metrics) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Minute
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 30 * time.Second
	}
	return &Executor{slots: slots, pool: pool, pub: pub, log: log, met: met, opts: opts}
}

// RunOnce publishes at most one due slot. It is safe to call from any
// number of concurrent processes; the store's claim decides ownership.
func (e *Executor) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	if !e.opts.Enforce {
		return Result{}, ErrEnforcementDisabled
	}

	due, err := e.slots.FindDueSlots(ctx, now.Add(-e.opts.Grace), now.Add(e.opts.Grace))
	if err != nil {
		return Result{}, fmt.Errorf("find due slots: %w", err)
	}
	if len(due) == 0 {
		return Result{Outcome: OutcomeNoScheduledContent}, nil
	}

	for i := range due {
		sl := due[i]

		// A slot without content is a scheduling gap, not a post. Do
		// not claim it; surface it so operators can tell "nothing due"
		// from "misconfigured schedule".
		if sl.ContentID == nil {
			e.log.Warn("due slot has no content assigned",
				logx.Int64("slot_id", sl.ID),
				logx.Time("scheduled_at", sl.ScheduledAt),
			)
			return Result{Outcome: OutcomeEmptySlot, SlotID: sl.ID, Platform: sl.Platform}, nil
		}

		won, err := e.slots.TryClaim(ctx, sl.ID)
		if err != nil {
			return Result{}, fmt.Errorf("claim slot %d: %w", sl.ID, err)
		}
		if !won {
			// Another invocation got there first; benign.
			if e.met != nil {
				e.met.ClaimConflicts.Inc()
			}
			e.log.Debug("claim lost to concurrent executor", logx.Int64("slot_id", sl.ID))
			continue
		}

		return e.publishClaimed(ctx, &sl)
	}

	// Every candidate was claimed elsewhere.
	return Result{Outcome: OutcomeNoScheduledContent}, nil
}

func (e *Executor) publishClaimed(ctx context.Context, sl *store.Slot) (Result, error) {
	contentID := *sl.ContentID

	item, err := e.pool.Content(ctx, contentID)
	if err != nil {
		// The claim is in flight; make the slot retryable before bailing.
		e.revert(sl.ID, fmt.Sprintf("content fetch failed: %v", err))
		return Result{}, fmt.Errorf("fetch content %d for slot %d: %w", contentID, sl.ID, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, e.opts.PublishTimeout)
	err = e.pub.Publish(pubCtx, item)
	cancel()
	if err != nil {
		e.revert(sl.ID, err.Error())
		if e.met != nil {
			e.met.PublishFailures.WithLabelValues(string(item.Platform)).Inc()
		}
		e.log.Error("publish failed; slot reverted",
			logx.Int64("slot_id", sl.ID),
			logx.Int64("content_id", contentID),
			logx.String("platform", string(item.Platform)),
			logx.Err(err),
		)
		return Result{}, &PublishError{SlotID: sl.ID, ContentID: contentID, Err: err}
	}

	postedAt := time.Now()
	if err := e.slots.RecordPosted(ctx, sl.ID, contentID, postedAt); err != nil {
		// The post went out. Reverting now could publish it twice, so
		// leave the slot in posting and surface the inconsistency.
		e.log.Error("published but failed to record; slot left in posting",
			logx.Int64("slot_id", sl.ID),
			logx.Int64("content_id", contentID),
			logx.Err(err),
		)
		return Result{}, fmt.Errorf("record posted slot %d: %w", sl.ID, err)
	}

	if e.met != nil {
		e.met.PostsPublished.WithLabelValues(string(item.Platform)).Inc()
	}
	e.log.Info("slot published",
		logx.Int64("slot_id", sl.ID),
		logx.Int64("content_id", contentID),
		logx.String("platform", string(item.Platform)),
		logx.Time("scheduled_at", sl.ScheduledAt),
	)
	return Result{
		Outcome:   OutcomePosted,
		SlotID:    sl.ID,
		ContentID: contentID,
		Platform:  item.Platform,
		PostedAt:  postedAt,
	}, nil
}

// revert is best-effort: the caller is already on an error path.
func (e *Executor) revert(slotID int64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.slots.RevertToPending(ctx, slotID, reason); err != nil {
		e.log.Error("failed to revert claimed slot", logx.Int64("slot_id", slotID), logx.Err(err))
	}
}
