package config

import (
	"reflect"
	"sort"
	"strings"

	logx "autopost/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage (path/url may carry credentials, only log presence)
	oldS, newS := oldCfg.Storage, newCfg.Storage
	if oldS.Driver != newS.Driver ||
		(strings.TrimSpace(oldS.Path) != "") != (strings.TrimSpace(newS.Path) != "") ||
		(strings.TrimSpace(oldS.URL) != "") != (strings.TrimSpace(newS.URL) != "") ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.url_set", strings.TrimSpace(newS.URL) != ""),
		)
	}

	// Schedule
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Int("schedule.lookahead_days", newCfg.Schedule.Days()),
			logx.Int("schedule.slot_count", len(newCfg.Schedule.SlotTimes)),
			logx.String("schedule.daily_at", newCfg.Schedule.DailyTrigger()),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	// Posting
	if !reflect.DeepEqual(oldCfg.Posting, newCfg.Posting) {
		changed = append(changed, "posting")
		attrs = append(attrs,
			logx.Bool("posting.enforce_slot_queue", newCfg.Posting.EnforceSlotQueue),
			logx.String("posting.grace", strings.TrimSpace(newCfg.Posting.Grace)),
			logx.String("posting.interval", strings.TrimSpace(newCfg.Posting.Interval)),
		)
	}

	// Publisher (never log the token)
	oldP, newP := oldCfg.Publisher, newCfg.Publisher
	pubChanged := oldP.Driver != newP.Driver
	if !pubChanged {
		ot, nt := derefTelegram(oldP.Telegram), derefTelegram(newP.Telegram)
		pubChanged = (oldP.Telegram != nil) != (newP.Telegram != nil) || !reflect.DeepEqual(ot, nt)
	}
	if pubChanged {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.String("publisher.driver", strings.TrimSpace(newP.Driver)),
		)
		if newP.Telegram != nil {
			attrs = append(attrs,
				logx.Bool("publisher.telegram.token_set", strings.TrimSpace(newP.Telegram.Token) != ""),
				logx.Int("publisher.telegram.rate_per_sec", newP.Telegram.RatePerSec),
			)
		}
	}

	// Ops
	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramPublisherConfig) TelegramPublisherConfig {
	if t == nil {
		return TelegramPublisherConfig{}
	}
	return *t
}
