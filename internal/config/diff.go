package config

import (
	"reflect"
	"sort"
	"strings"

	logx "eckod/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the telegram token) are reduced to
// a presence flag and never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.queue_size", newCfg.Scheduler.QueueSize),
		)
	}

	if !equalNotify(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		n := newCfg.Notify
		if n == nil {
			n = &NotifyConfig{}
		}
		attrs = append(attrs,
			logx.Int("notify.ring_capacity", n.RingCapacity),
			logx.Int("notify.workers", n.Workers),
			logx.Int("notify.rate_per_sec", n.RatePerSec),
			logx.String("notify.retention", strings.TrimSpace(n.Retention)),
		)
	}

	if !equalReminders(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		r := newCfg.Reminders
		if r == nil {
			r = &RemindersConfig{}
		}
		attrs = append(attrs,
			logx.String("reminders.default_time_of_day", r.DefaultTimeOfDay),
			logx.String("reminders.sweep_spec", r.SweepSpec),
		)
	}

	ot, nt := oldCfg.Channels.Telegram, newCfg.Channels.Telegram
	if ot.Enabled != nt.Enabled ||
		(strings.TrimSpace(ot.Token) != "") != (strings.TrimSpace(nt.Token) != "") ||
		!reflect.DeepEqual(ot.Owners, nt.Owners) {
		changed = append(changed, "channels.telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.owner_count", len(nt.Owners)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func equalNotify(a, b *NotifyConfig) bool {
	if a == nil {
		a = &NotifyConfig{}
	}
	if b == nil {
		b = &NotifyConfig{}
	}
	return *a == *b
}

func equalReminders(a, b *RemindersConfig) bool {
	if a == nil {
		a = &RemindersConfig{}
	}
	if b == nil {
		b = &RemindersConfig{}
	}
	return *a == *b
}
