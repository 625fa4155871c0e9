// Package engine ties parsing, storage, scheduling and notification
// delivery into the reminder lifecycle: create, list, fire, delete,
// reconcile on startup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"eckod/internal/eventbus"
	"eckod/internal/notify"
	"eckod/internal/scheduler"
	"eckod/internal/storage"
	"eckod/internal/timeparse"
	logx "eckod/pkg/logx"
)

const shardCount = 64

// Fired messages carry a marker so delivery channels and clients can tell
// a one-off from a recurring ping at a glance.
const (
	oneShotPrefix   = "🔔 Recordatorio: "
	recurringPrefix = "⏰ Recordatorio: "
)

type Config struct {
	// DefaultTimeOfDay is used for recurring rules without an explicit
	// clock time. Default "09:00".
	DefaultTimeOfDay string
	// SweepSpec is the cron spec for the notification retention sweep.
	SweepSpec string
}

// Engine is the reminder facade. All public methods are safe for
// concurrent use; operations on the same reminder id are serialized.
type Engine struct {
	cfg    Config
	log    logx.Logger
	store  storage.Store
	sched  *scheduler.Service
	sink   *notify.Sink
	bus    eventbus.Bus
	parser *timeparse.Parser

	defaultTod timeparse.TimeOfDay

	// ready is closed once startup reconciliation finished; foreground
	// operations wait on it so they never race the rebuild.
	ready chan struct{}

	startOnce sync.Once
	shards    [shardCount]sync.Mutex
}

func New(cfg Config, store storage.Store, sched *scheduler.Service, sink *notify.Sink, bus eventbus.Bus, log logx.Logger) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultTimeOfDay == "" {
		cfg.DefaultTimeOfDay = "09:00"
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = "20 4 * * *"
	}
	tod, err := timeparse.ParseTimeOfDay(cfg.DefaultTimeOfDay)
	if err != nil {
		return nil, fmt.Errorf("default time of day: %w", err)
	}
	return &Engine{
		cfg:        cfg,
		log:        log,
		store:      store,
		sched:      sched,
		sink:       sink,
		bus:        bus,
		parser:     timeparse.New(sched.Location()),
		defaultTod: tod,
		ready:      make(chan struct{}),
	}, nil
}

// Start brings up the scheduler and sink, rebuilds jobs from the store and
// opens the engine for foreground calls. Reconciliation errors are returned
// but the engine still opens: a partially rebuilt schedule beats a dead one.
func (e *Engine) Start(ctx context.Context) error {
	var recErr error
	e.startOnce.Do(func() {
		e.sched.Start(ctx)
		e.sink.Start(ctx)

		recErr = e.Reconcile(ctx)

		if err := e.sched.AddMaintenance("notify-sweep", e.cfg.SweepSpec, func(jctx context.Context) error {
			_, err := e.sink.Sweep(jctx, e.sink.Retention())
			return err
		}); err != nil {
			e.log.Warn("retention sweep not scheduled", logx.Err(err))
		}

		close(e.ready)
		e.log.Info("engine ready")
	})
	return recErr
}

func (e *Engine) Shutdown(ctx context.Context) {
	e.sched.Stop(ctx)
	e.sink.Stop(ctx)
	e.log.Info("engine stopped")
}

// CreateReminder parses the text, persists the reminder and arms its job.
// Untimed text still creates a passive note: stored and listable, never
// scheduled. A one-shot whose instant is already past is persisted too,
// but retired immediately instead of armed: missed, never fired late.
func (e *Engine) CreateReminder(ctx context.Context, ownerID, text string) (storage.Reminder, error) {
	if err := e.waitReady(ctx); err != nil {
		return storage.Reminder{}, err
	}

	now := time.Now().In(e.sched.Location())
	parsed := e.parser.Parse(text, now)

	r := storage.Reminder{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		RawText:    text,
		Message:    timeparse.ExtractMessage(text),
		CreatedAt:  now.UTC(),
		TargetAt:   parsed.Target,
		Recurrence: parsed.Recurrence,
		Active:     true,
	}
	if parsed.Recurrence != nil {
		tod := e.defaultTod
		if parsed.TimeOfDay != nil {
			tod = *parsed.TimeOfDay
		}
		r.TimeOfDay = tod.String()
	}

	unlock := e.lockID(r.ID)
	defer unlock()

	if err := e.store.SaveReminder(ctx, r); err != nil {
		return storage.Reminder{}, fmt.Errorf("save reminder: %w", err)
	}
	if err := e.arm(r); errors.Is(err, scheduler.ErrElapsed) {
		// Target already passed. Keep the record but retire it right away.
		if serr := e.store.SetReminderActive(ctx, r.ID, false); serr != nil {
			e.log.Warn("deactivate elapsed reminder failed", logx.String("id", r.ID), logx.Err(serr))
		} else {
			r.Active = false
		}
	} else if err != nil {
		// Keep store and schedule consistent: no job, no row.
		if _, derr := e.store.DeleteReminder(ctx, r.ID); derr != nil {
			e.log.Error("rollback of unarmed reminder failed", logx.String("id", r.ID), logx.Err(derr))
		}
		return storage.Reminder{}, err
	}

	e.publish(eventbus.TypeReminderCreated, r)
	e.log.Info("reminder created",
		logx.String("id", r.ID), logx.String("owner", ownerID),
		logx.Bool("timed", r.Armable()))
	return r, nil
}

// ListReminders returns the owner's reminders, soonest target first.
func (e *Engine) ListReminders(ctx context.Context, ownerID string, activeOnly bool) ([]storage.Reminder, error) {
	if err := e.waitReady(ctx); err != nil {
		return nil, err
	}
	return e.store.ListReminders(ctx, ownerID, activeOnly)
}

// DeleteReminder cancels the job and removes the record. Scoped to the
// owner: an id belonging to someone else reports false and is left alone.
// Idempotent: deleting an unknown id reports false without error.
func (e *Engine) DeleteReminder(ctx context.Context, ownerID, id string) (bool, error) {
	if err := e.waitReady(ctx); err != nil {
		return false, err
	}

	unlock := e.lockID(id)
	defer unlock()

	r, found, err := e.store.GetReminder(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		e.sched.Cancel(id)
		return false, nil
	}
	if r.OwnerID != ownerID {
		e.log.Warn("delete refused, owner mismatch",
			logx.String("id", id), logx.String("owner", ownerID))
		return false, nil
	}

	// Job first so the fire callback cannot land between delete and cancel.
	e.sched.Cancel(id)

	deleted, err := e.store.DeleteReminder(ctx, id)
	if err != nil {
		// Put the job back; the record is still there.
		if r.Active {
			if rearmErr := e.arm(r); rearmErr != nil && !errors.Is(rearmErr, scheduler.ErrElapsed) {
				e.log.Error("re-arm after failed delete", logx.String("id", id), logx.Err(rearmErr))
			}
		}
		return false, err
	}

	e.publish(eventbus.TypeReminderDeleted, r)
	e.log.Info("reminder deleted", logx.String("id", id), logx.String("owner", r.OwnerID))
	return deleted, nil
}

// PollNotifications drains the owner's unread notifications.
func (e *Engine) PollNotifications(ctx context.Context, ownerID string, clearAfter bool) ([]storage.Notification, error) {
	if err := e.waitReady(ctx); err != nil {
		return nil, err
	}
	return e.sink.Poll(ctx, ownerID, clearAfter)
}

// Reconcile rebuilds scheduler jobs from the durable store. Recurring rules
// re-arm unconditionally; future one-shots re-arm at their original instant;
// one-shots whose instant passed while the process was down are deactivated
// without firing.
func (e *Engine) Reconcile(ctx context.Context) error {
	reminders, err := e.store.ListActiveReminders(ctx)
	if err != nil {
		return fmt.Errorf("list active reminders: %w", err)
	}

	var rearmed, expired, passive int
	for _, r := range reminders {
		switch {
		case r.Recurrence != nil:
			if err := e.arm(r); err != nil {
				e.log.Warn("re-arm recurring failed", logx.String("id", r.ID), logx.Err(err))
				continue
			}
			rearmed++
		case r.TargetAt != nil:
			err := e.arm(r)
			if errors.Is(err, scheduler.ErrElapsed) {
				// Missed while down. Deactivate silently, never fire late.
				if serr := e.store.SetReminderActive(ctx, r.ID, false); serr != nil {
					e.log.Warn("deactivate elapsed reminder failed", logx.String("id", r.ID), logx.Err(serr))
				}
				expired++
				continue
			}
			if err != nil {
				e.log.Warn("re-arm one-shot failed", logx.String("id", r.ID), logx.Err(err))
				continue
			}
			rearmed++
		default:
			passive++
		}
	}

	e.log.Info("reconciliation finished",
		logx.Int("rearmed", rearmed), logx.Int("expired", expired), logx.Int("passive", passive))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeReconciled, Time: time.Now(), Data: map[string]int{
			"rearmed": rearmed, "expired": expired, "passive": passive,
		}})
	}
	return nil
}

// arm registers the reminder's job with the scheduler. Passive notes are a
// no-op.
func (e *Engine) arm(r storage.Reminder) error {
	switch {
	case r.Recurrence != nil:
		tod := e.defaultTod
		if r.TimeOfDay != "" {
			if t, err := timeparse.ParseTimeOfDay(r.TimeOfDay); err == nil {
				tod = t
			}
		}
		id := r.ID
		return e.sched.ArmRecurring(id, *r.Recurrence, tod, func(ctx context.Context) error {
			return e.fireRecurring(ctx, id)
		})
	case r.TargetAt != nil:
		id := r.ID
		return e.sched.ArmOnce(id, *r.TargetAt, func(ctx context.Context) error {
			return e.fireOnce(ctx, id)
		})
	default:
		return nil
	}
}

// fireOnce handles a one-shot trigger: emit the notification, then retire
// the reminder. The notification is persisted before the reminder flips
// inactive so a crash in between re-fires rather than loses.
func (e *Engine) fireOnce(ctx context.Context, id string) error {
	unlock := e.lockID(id)
	defer unlock()

	r, found, err := e.store.GetReminder(ctx, id)
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", id, err)
	}
	if !found || !r.Active {
		// Deleted or retired after the job was queued.
		return nil
	}

	_, emitErr := e.sink.Emit(ctx, r.OwnerID, r.ID, oneShotPrefix+r.Message)
	if emitErr != nil {
		// Leave the reminder active: reconciliation will retire it, and we
		// never mark done what was never recorded.
		return fmt.Errorf("emit notification: %w", emitErr)
	}

	if err := e.store.SetReminderActive(ctx, id, false); err != nil {
		return fmt.Errorf("retire reminder %s: %w", id, err)
	}
	e.publish(eventbus.TypeReminderFired, r)
	return nil
}

// fireRecurring handles a recurring trigger: emit and stay armed.
func (e *Engine) fireRecurring(ctx context.Context, id string) error {
	unlock := e.lockID(id)
	defer unlock()

	r, found, err := e.store.GetReminder(ctx, id)
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", id, err)
	}
	if !found || !r.Active {
		// Record gone but the cron entry survived; drop it.
		e.sched.Cancel(id)
		return nil
	}

	if _, err := e.sink.Emit(ctx, r.OwnerID, r.ID, recurringPrefix+r.Message); err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	e.publish(eventbus.TypeReminderFired, r)
	return nil
}

func (e *Engine) waitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) lockID(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &e.shards[h.Sum32()%shardCount]
	m.Lock()
	return m.Unlock
}

func (e *Engine) publish(typ string, r storage.Reminder) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: map[string]string{
		"id":    r.ID,
		"owner": r.OwnerID,
	}})
}
