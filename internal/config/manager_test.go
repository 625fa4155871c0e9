package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
timezone: America/Argentina/Buenos_Aires
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./ecko.db
  busy_timeout: 5s
scheduler:
  workers: 4
  queue_size: 128
notify:
  ring_capacity: 25
  rate_per_sec: 2
  retention: 168h
reminders:
  default_time_of_day: "08:30"
channels:
  telegram:
    enabled: true
    token: "123:abc"
    owners:
      facu: 4242
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "America/Argentina/Buenos_Aires" {
		t.Fatalf("timezone = %q", cfg.Timezone)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Notify == nil || cfg.Notify.RingCapacity != 25 {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
	if cfg.Reminders == nil || cfg.Reminders.DefaultTimeOfDay != "08:30" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	tg := cfg.Channels.Telegram
	if !tg.Enabled || tg.Token != "123:abc" || tg.Owners["facu"] != 4242 {
		t.Fatalf("telegram = %+v", tg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "memory", "path": ""},
  "scheduler": {},
  "channels": {"telegram": {"enabled": false}}
}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: memory
  path: ""
scheduler: {}
channels:
  telegram:
    enabled: false
speling_mistake: true
`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"storage":{"driver":"memory","path":""},"scheduler":{},"channels":{"telegram":{"enabled":false}}}{"extra":1}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected trailing JSON document to be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 5s ")
	if err != nil || d != 5*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "five"); err == nil {
		t.Fatal("garbage duration must be rejected")
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = (%v, %v)", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("explicit = (%v, %v)", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Channels: ChannelsConfig{Telegram: TelegramChannel{
			Enabled: true, Token: "secret", Owners: map[string]int64{"facu": 1},
		}},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug", Console: true},
		Channels: ChannelsConfig{Telegram: TelegramChannel{
			Enabled: true, Token: "rotated", Owners: map[string]int64{"facu": 1},
		}},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging"}
	if len(changed) != 1 || changed[0] != want[0] {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs for changed sections")
	}

	// Token rotation alone (still set) is intentionally not reported.
	changed, _ = SummarizeChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}
