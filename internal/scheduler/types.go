package scheduler

import (
	"context"
	"errors"
	"time"
)

// Job is a fire callback. It runs on the scheduler's worker pool,
// concurrently with other jobs and with foreground calls.
type Job func(ctx context.Context) error

var (
	// ErrStopped is returned when arming while the scheduler is not running.
	ErrStopped = errors.New("scheduler not started")
	// ErrElapsed is returned when a one-shot target is already in the past.
	// The reminder is treated as missed, never fired retroactively.
	ErrElapsed = errors.New("target already elapsed")
)

type Config struct {
	Workers   int
	QueueSize int
	Timezone  string // IANA TZ, e.g. "America/Argentina/Buenos_Aires"
}

type task struct {
	id  string
	run Job
}

// HistoryItem records one executed job for operational visibility.
type HistoryItem struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Error    string
}
