package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "autopost/pkg/logx"
)

// ContentPool is the read-only view of approved, not-yet-posted content.
type ContentPool interface {
	// ListEligible returns approved unposted items ordered by priority
	// desc, confidence desc, created_at asc (stable and deterministic).
	// An optional platform filter narrows the result.
	ListEligible(ctx context.Context, platforms ...Platform) ([]ContentItem, error)
	// Content fetches one item by id; ErrNotFound if missing.
	Content(ctx context.Context, id int64) (*ContentItem, error)
}

// SlotStore owns the ScheduledSlot lifecycle.
type SlotStore interface {
	// CreateSlot inserts a pending slot and returns its id.
	CreateSlot(ctx context.Context, s Slot) (int64, error)
	// SlotIndexesOn returns the slot indexes already present in
	// [from, to), regardless of status.
	SlotIndexesOn(ctx context.Context, from, to time.Time) (map[int]bool, error)
	// FindDueSlots returns pending slots scheduled within [from, to],
	// ordered by scheduled time ascending.
	FindDueSlots(ctx context.Context, from, to time.Time) ([]Slot, error)
	// TryClaim atomically transitions the slot pending -> posting.
	// It returns true only for the single caller that won the claim.
	TryClaim(ctx context.Context, slotID int64) (bool, error)
	// RecordPosted finalizes a claimed slot: writes the posted record,
	// flips the slot to posted and marks the content item posted, all in
	// one transaction.
	RecordPosted(ctx context.Context, slotID, contentID int64, postedAt time.Time) error
	// RevertToPending returns a claimed slot to the retryable state,
	// recording why the publish failed.
	RevertToPending(ctx context.Context, slotID int64, reason string) error

	CountPending(ctx context.Context) (int, error)
	// NextPendingSlot returns the earliest pending slot, or nil.
	NextPendingSlot(ctx context.Context, now time.Time) (*Slot, error)
	// RecentPlatforms returns the platforms that had a posted record
	// since the given time.
	RecentPlatforms(ctx context.Context, since time.Time) (map[Platform]bool, error)
}

// Store is the full persistence API.
type Store interface {
	ContentPool
	SlotStore

	// AddContent inserts an approved item (ingestion hook, also used by
	// tests).
	AddContent(ctx context.Context, c ContentItem) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
