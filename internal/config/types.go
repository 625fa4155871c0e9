package config

type Config struct {
	// Timezone is the IANA zone all naive reminder times resolve in,
	// e.g. "America/Argentina/Buenos_Aires". Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notify controls the async delivery pipeline.
	Notify *NotifyConfig `json:"notify,omitempty"`

	// Reminders tunes engine behavior.
	Reminders *RemindersConfig `json:"reminders,omitempty"`

	Channels ChannelsConfig `json:"channels"`
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

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./ecko.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "168h").
// If the whole section is omitted, runtime defaults apply.
type NotifyConfig struct {
	Title         string `json:"title,omitempty"`
	RingCapacity  int    `json:"ring_capacity,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	Retention     string `json:"retention,omitempty"`
}

type RemindersConfig struct {
	// DefaultTimeOfDay ("HH:MM") is used for recurring rules without an
	// explicit clock time. Default "09:00".
	DefaultTimeOfDay string `json:"default_time_of_day,omitempty"`
	// SweepSpec is the cron spec for the notification retention sweep.
	SweepSpec string `json:"sweep_spec,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramChannel `json:"telegram"`
}

type TelegramChannel struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	// Owners maps engine owner ids to Telegram chat ids.
	Owners map[string]int64 `json:"owners,omitempty"`
}
