package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule"`
	Posting  PostingConfig  `json:"posting"`

	Publisher PublisherConfig `json:"publisher"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the slot/content store backend.
//
// Driver values:
//   - "sqlite": local SQLite database file (claim via conditional UPDATE)
//   - "postgres": PostgreSQL (claim via transactional row lock)
type StorageConfig struct {
	Driver string `json:"driver"`
	// Path is the database file (sqlite only).
	Path string `json:"path,omitempty"`
	// URL is the connection string (postgres only).
	URL string `json:"url,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ScheduleConfig controls the daily batch scheduler.
//
// All durations are Go duration strings (e.g. "30m", "24h").
type ScheduleConfig struct {
	// LookaheadDays is how many days of slots to fill per batch run.
	LookaheadDays int `json:"lookahead_days,omitempty"`
	// SlotTimes are the in-day posting times as "HH:MM", ascending.
	SlotTimes []string `json:"slot_times,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
	// Lookback is how far back posted history counts against a platform
	// when breaking selection ties.
	Lookback string `json:"lookback,omitempty"`
	// DailyAt is when the batch run triggers, as "HH:MM".
	DailyAt string `json:"daily_at,omitempty"`
}

// PostingConfig controls the posting executor.
type PostingConfig struct {
	// EnforceSlotQueue makes scheduled slots the single source of truth.
	// When false the executor refuses to run instead of falling back to
	// any ad-hoc "next approved item" behavior.
	EnforceSlotQueue bool `json:"enforce_slot_queue"`
	// Grace is the tolerance around a slot's scheduled time within which
	// it is still considered due.
	Grace string `json:"grace,omitempty"`
	// Interval is the executor cadence.
	Interval string `json:"interval,omitempty"`
	// PublishTimeout bounds a single publish call.
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

// PublisherConfig selects the outbound publishing adapter.
type PublisherConfig struct {
	Driver   string                   `json:"driver"` // "telegram"
	Telegram *TelegramPublisherConfig `json:"telegram,omitempty"`
}

type TelegramPublisherConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// RatePerSec caps outbound sends; Telegram throttles hard otherwise.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the optional operational HTTP listener
// (/healthz, /metrics, optional pprof).
//
// Prefer binding to localhost.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
	Pprof   bool   `json:"pprof,omitempty"`
}

// Defaults per the original deployment: six slots per day.
var defaultSlotTimes = []string{"08:00", "10:30", "13:00", "15:30", "18:00", "20:30"}

const (
	defaultLookaheadDays  = 7
	defaultGrace          = 5 * time.Minute
	defaultInterval       = 3 * time.Minute
	defaultPublishTimeout = 30 * time.Second
	defaultLookback       = 24 * time.Hour
	defaultDailyAt        = "02:00"
)

// SlotTime is a parsed in-day posting time.
type SlotTime struct {
	Hour   int
	Minute int
}

func (t SlotTime) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// At anchors the slot time on the given day in loc.
func (t SlotTime) At(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// SlotTimes returns the configured (or default) in-day posting times,
// parsed and sorted ascending.
func (c ScheduleConfig) Times() ([]SlotTime, error) {
	raw := c.SlotTimes
	if len(raw) == 0 {
		raw = defaultSlotTimes
	}
	out := make([]SlotTime, 0, len(raw))
	for _, s := range raw {
		h, m, err := ParseHHMM(s)
		if err != nil {
			return nil, fmt.Errorf("schedule.slot_times: %w", err)
		}
		out = append(out, SlotTime{Hour: h, Minute: m})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

func (c ScheduleConfig) Days() int {
	if c.LookaheadDays <= 0 {
		return defaultLookaheadDays
	}
	return c.LookaheadDays
}

func (c ScheduleConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

func (c ScheduleConfig) LookbackWindow() (time.Duration, error) {
	return ParseDurationOrDefault("schedule.lookback", c.Lookback, defaultLookback)
}

func (c ScheduleConfig) DailyTrigger() string {
	s := strings.TrimSpace(c.DailyAt)
	if s == "" {
		return defaultDailyAt
	}
	return s
}

func (c PostingConfig) GraceWindow() (time.Duration, error) {
	return ParseDurationOrDefault("posting.grace", c.Grace, defaultGrace)
}

func (c PostingConfig) RunInterval() (time.Duration, error) {
	return ParseDurationOrDefault("posting.interval", c.Interval, defaultInterval)
}

func (c PostingConfig) Timeout() (time.Duration, error) {
	return ParseDurationOrDefault("posting.publish_timeout", c.PublishTimeout, defaultPublishTimeout)
}

// ParseHHMM parses "HH:MM" (24h clock).
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Validate checks cross-field consistency without touching I/O.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.URL) == "" {
			return fmt.Errorf("storage.url is required for postgres")
		}
	case "":
		return fmt.Errorf("storage.driver is required")
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if _, err := c.Schedule.Times(); err != nil {
		return err
	}
	if _, _, err := ParseHHMM(c.Schedule.DailyTrigger()); err != nil {
		return fmt.Errorf("schedule.daily_at: %w", err)
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}
	if _, err := c.Schedule.LookbackWindow(); err != nil {
		return err
	}
	if _, err := c.Posting.GraceWindow(); err != nil {
		return err
	}
	if _, err := c.Posting.RunInterval(); err != nil {
		return err
	}
	if _, err := c.Posting.Timeout(); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Publisher.Driver)) {
	case "telegram":
		if c.Publisher.Telegram == nil || strings.TrimSpace(c.Publisher.Telegram.Token) == "" {
			return fmt.Errorf("publisher.telegram.token is required")
		}
		if c.Publisher.Telegram.ChatID == 0 {
			return fmt.Errorf("publisher.telegram.chat_id is required")
		}
	case "", "none":
		// allowed: scheduling-only deployments
	default:
		return fmt.Errorf("unknown publisher.driver %q", c.Publisher.Driver)
	}
	return nil
}
