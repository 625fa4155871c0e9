package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every backend I/O failure so callers can report
// "reminder service unavailable" without inspecting driver internals.
var ErrUnavailable = errors.New("storage unavailable")

type RecurrenceType string

const (
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
)

// Recurrence describes a repeating schedule. Weekly rules carry a day of
// week with Monday=0 .. Sunday=6. Monthly rules fire on day 1.
type Recurrence struct {
	Type      RecurrenceType `json:"type"`
	DayOfWeek int            `json:"day_of_week,omitempty"`
}

// Reminder is the durable record owned by the reminder store.
//
// TargetAt and Recurrence are both optional; when both are present the
// recurrence wins and TargetAt is never armed. A record with neither is a
// passive note: stored, listable, never scheduled.
type Reminder struct {
	ID         string
	OwnerID    string
	RawText    string
	Message    string
	CreatedAt  time.Time
	TargetAt   *time.Time
	Recurrence *Recurrence
	TimeOfDay  string // "HH:MM"; recurring reminders only, "" means default
	Active     bool
}

// Armable reports whether the reminder carries any timing at all.
func (r Reminder) Armable() bool { return r.Recurrence != nil || r.TargetAt != nil }

// Notification is one fire event queued for an owner.
type Notification struct {
	ID         string
	ReminderID string // "" when the notification has no backing reminder
	OwnerID    string
	Message    string
	CreatedAt  time.Time
	Read       bool
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local, lost on restart (tests, persistence-less runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine, scheduler and sink.
//
// Implementations must be safe for concurrent use: fire callbacks and
// foreground handlers call into the store simultaneously.
type Store interface {
	SaveReminder(ctx context.Context, r Reminder) error
	GetReminder(ctx context.Context, id string) (Reminder, bool, error)
	// ListReminders returns an owner's reminders ordered by target time
	// ascending with untimed records last.
	ListReminders(ctx context.Context, ownerID string, activeOnly bool) ([]Reminder, error)
	// ListActiveReminders returns active records across all owners
	// (startup reconciliation).
	ListActiveReminders(ctx context.Context) ([]Reminder, error)
	SetReminderActive(ctx context.Context, id string, active bool) error
	// DeleteReminder reports whether a record existed.
	DeleteReminder(ctx context.Context, id string) (bool, error)

	SaveNotification(ctx context.Context, n Notification) error
	ListUnreadNotifications(ctx context.Context, ownerID string) ([]Notification, error)
	MarkNotificationsRead(ctx context.Context, ownerID string) error
	// DeleteNotificationsBefore removes rows older than cutoff regardless
	// of read state. Returns the number deleted.
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
