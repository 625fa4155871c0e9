package notify

import (
	"context"
	"errors"
	"time"
)

var ErrQueueFull = errors.New("delivery queue full")

// Channel is one external delivery transport (push, chat, ...), registered
// by the host application. Delivery is best-effort: the sink logs failures
// and never surfaces them; the durable notification row is the guarantee.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ownerID, title, message string, meta map[string]string) error
}

// Config controls the async delivery pipeline and the per-owner in-memory
// queue used for low-latency polling.
type Config struct {
	Title         string // delivery title, e.g. "🔔 Ecko"
	RingCapacity  int    // per-owner pending queue, oldest dropped first
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Retention     time.Duration // Sweep() cutoff age
}

// DeliveryEvent is published on the event bus for sink delivery events
// (eventbus.TypeNotifyDelivered / TypeNotifyFailed / TypeNotifyDropped).
type DeliveryEvent struct {
	Channel        string    `json:"channel"`
	OwnerID        string    `json:"owner_id"`
	NotificationID string    `json:"notification_id"`
	ReminderID     string    `json:"reminder_id,omitempty"`
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
}
