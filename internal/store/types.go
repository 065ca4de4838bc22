package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)

// Platform identifies the source platform of a content item.
type Platform string

const (
	PlatformReddit  Platform = "reddit"
	PlatformYouTube Platform = "youtube"
	PlatformGiphy   Platform = "giphy"
)

// Status is the lifecycle state of a scheduled slot.
//
// pending -> posting -> posted is the happy path. A failed publish
// reverts the slot to pending with FailReason set so the next
// invocation can retry it. StatusFailed is reserved for slots parked
// by an operator; the executor never writes it.
type Status string

const (
	StatusPending Status = "pending"
	StatusPosting Status = "posting"
	StatusPosted  Status = "posted"
	StatusFailed  Status = "failed"
)

// Config configures the store backend.
//
// Driver values:
//   - "sqlite": local database file
//   - "postgres": connection URL
type Config struct {
	Driver      string
	Path        string        // sqlite
	URL         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ContentItem is an approved, publishable unit produced by ingestion.
type ContentItem struct {
	ID         int64
	Platform   Platform
	Title      string
	MediaURL   string
	Priority   int
	Confidence float64
	Posted     bool
	CreatedAt  time.Time
}

// Slot is a single time-boxed posting opportunity.
//
// ContentID stays nil until the batch scheduler assigns an item; a slot
// with nil ContentID must never reach StatusPosted.
type Slot struct {
	ID          int64
	ContentID   *int64
	Platform    Platform
	ScheduledAt time.Time
	SlotIndex   int // 0-based index within the day
	Status      Status
	UpdatedAt   time.Time
	FailReason  string
}

// PostedRecord is durable evidence of a successful publish.
// Created exactly once per posted slot, never mutated.
type PostedRecord struct {
	ID        string // uuid
	SlotID    int64
	ContentID int64
	Platform  Platform
	PostedAt  time.Time
	Ordinal   int64 // monotonic insertion order
}
