package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"autopost/internal/metrics"
	"autopost/internal/store"
	logx "autopost/pkg/logx"
)

const noContentMessage = "no content available"

type Scheduler struct {
	pool  store.ContentPool
	slots store.SlotStore
	log   logx.Logger
	met   *metrics.Metrics
	opts  Options
}

func New(pool store.ContentPool, slots store.SlotStore, opts Options, log logx.Logger, met *metrics.Metrics) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{pool: pool, slots: slots, log: log, met: met, opts: opts}
}

// Run assigns eligible content to the next Days' slots. A storage
// failure on the fetch path aborts the whole run; a failure while
// writing one day's slots abandons only that day.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	items, err := s.pool.ListEligible(ctx)
	if err != nil {
		return res, fmt.Errorf("list eligible content: %w", err)
	}
	if len(items) == 0 {
		res.NoContent = true
		res.Message = noContentMessage
		s.log.Info("scheduling skipped: pool is empty")
		return res, nil
	}

	recent, err := s.slots.RecentPlatforms(ctx, now.Add(-s.opts.Lookback))
	if err != nil {
		return res, fmt.Errorf("recent platforms: %w", err)
	}

	// Per-platform queues preserve the pool's deterministic ordering.
	queues := map[store.Platform][]store.ContentItem{}
	for _, it := range items {
		queues[it.Platform] = append(queues[it.Platform], it)
	}

	loc := s.opts.Location
	for d := 0; d < s.opts.Days; d++ {
		day := startOfDay(now.In(loc).AddDate(0, 0, d), loc)
		dr := s.runDay(ctx, now, day, queues, recent, &res)
		res.Days = append(res.Days, dr)
		res.Scheduled += dr.Assigned
	}

	s.log.Info("scheduling batch done",
		logx.Int("scheduled", res.Scheduled),
		logx.Int("days", len(res.Days)),
		logx.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (s *Scheduler) runDay(ctx context.Context, now, day time.Time, queues map[store.Platform][]store.ContentItem, recent map[store.Platform]bool, res *Result) DayResult {
	dr := DayResult{Day: day}
	loc := s.opts.Location

	existing, err := s.slots.SlotIndexesOn(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("day %s: slot lookup: %w", day.Format("2006-01-02"), err))
		return dr
	}
	if len(existing) >= len(s.opts.SlotTimes) {
		dr.Skipped = true
		return dr
	}

	// Free slot indexes in fixed time order, skipping times already past.
	var free []int
	for i, st := range s.opts.SlotTimes {
		if existing[i] {
			continue
		}
		if at := st.At(day, loc); at.Before(now) {
			continue
		}
		free = append(free, i)
	}
	if len(free) == 0 {
		dr.Skipped = true
		return dr
	}

	counts := map[store.Platform]int{}
	for _, idx := range free {
		platform, ok := pickPlatform(queues, counts, recent)
		if !ok {
			dr.Warning = fmt.Sprintf("filled %d of %d slots; pool ran dry", dr.Assigned, len(free))
			s.log.Warn("day underfilled",
				logx.Time("day", day),
				logx.Int("assigned", dr.Assigned),
				logx.Int("slots", len(free)),
			)
			break
		}

		item := queues[platform][0]
		slot := store.Slot{
			ContentID:   &item.ID,
			Platform:    item.Platform,
			ScheduledAt: s.opts.SlotTimes[idx].At(day, loc),
			SlotIndex:   idx,
			Status:      store.StatusPending,
		}
		if _, err := s.slots.CreateSlot(ctx, slot); err != nil {
			// Abandon the rest of this day; earlier writes stay committed
			// and the item remains available for the next day.
			res.Errors = append(res.Errors, fmt.Errorf("day %s: create slot: %w", day.Format("2006-01-02"), err))
			return dr
		}

		queues[platform] = queues[platform][1:]
		if len(queues[platform]) == 0 {
			delete(queues, platform)
		}
		counts[platform]++
		dr.Assigned++
		if s.met != nil {
			s.met.SlotsScheduled.Inc()
		}
		s.log.Debug("slot assigned",
			logx.Int64("content_id", item.ID),
			logx.String("platform", string(item.Platform)),
			logx.Time("at", slot.ScheduledAt),
			logx.Int("slot_index", idx),
		)
	}

	dr.Spread = spread(counts)
	return dr
}

// pickPlatform chooses the platform with the fewest selections so far
// among those with content remaining. Ties prefer platforms not posted
// recently, then the longer remaining queue, then platform name.
func pickPlatform(queues map[store.Platform][]store.ContentItem, counts map[store.Platform]int, recent map[store.Platform]bool) (store.Platform, bool) {
	candidates := make([]store.Platform, 0, len(queues))
	for p := range queues {
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if counts[a] != counts[b] {
			return counts[a] < counts[b]
		}
		if recent[a] != recent[b] {
			return !recent[a]
		}
		if len(queues[a]) != len(queues[b]) {
			return len(queues[a]) > len(queues[b])
		}
		return a < b
	})
	return candidates[0], true
}

// spread is max-min of the per-platform selection counts.
func spread(counts map[store.Platform]int) int {
	if len(counts) == 0 {
		return 0
	}
	minC, maxC := -1, 0
	for _, c := range counts {
		if minC < 0 || c < minC {
			minC = c
		}
		if c > maxC {
			maxC = c
		}
	}
	return maxC - minC
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
