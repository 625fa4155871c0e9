package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eckod/internal/storage"
	"eckod/internal/timeparse"
	logx "eckod/pkg/logx"
)

// Service owns one live job per armed reminder id: a cron entry for
// recurring rules, a time.Timer for one-shots. The mapping is derived,
// disposable state, rebuilt from the store on every process start.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron

	queue     chan task
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// jmu guards the per-id job handles.
	jmu     sync.Mutex
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	onceVer map[string]uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
		timers:  map[string]*time.Timer{},
		onceVer: map[string]uint64{},
	}
}

// Location returns the scheduler's wall-clock timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	qsize := s.cfg.QueueSize
	if qsize <= 0 {
		qsize = 256
	}
	// Fresh queue per run to avoid executing stale enqueued jobs after a
	// stop/start cycle.
	s.queue = make(chan task, qsize)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.stopCh = nil
	s.c = nil
	s.runCancel = nil
	s.queue = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Stop runtime timers; durable state is untouched and jobs re-arm on
	// the next reconciliation.
	s.jmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.entries = map[string]cron.EntryID{}
	s.jmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// ArmOnce registers a timer firing the job once at the given instant.
// A target at or before now is a missed reminder: nothing is scheduled and
// ErrElapsed is returned. Re-arming an id replaces its previous job.
func (s *Service) ArmOnce(id string, at time.Time, job Job) error {
	s.mu.Lock()
	started := s.c != nil
	loc := s.loc
	s.mu.Unlock()
	if !started {
		return ErrStopped
	}
	if loc == nil {
		loc = time.Local
	}

	runAt := at.In(loc)
	now := time.Now().In(loc)
	if !runAt.After(now) {
		s.log.Warn("one-shot target already elapsed, not arming",
			logx.String("id", id), logx.Time("target", runAt))
		return ErrElapsed
	}

	s.jmu.Lock()
	s.cancelLocked(id)
	// Bump version so stale callbacks from a replaced timer are ignored.
	ver := s.onceVer[id] + 1
	s.onceVer[id] = ver

	localVer := ver
	timer := time.AfterFunc(time.Until(runAt), func() {
		s.jmu.Lock()
		if s.onceVer[id] != localVer {
			s.jmu.Unlock()
			return
		}
		// One-shot: the handle is gone before the job runs.
		delete(s.timers, id)
		delete(s.onceVer, id)
		s.jmu.Unlock()

		s.enqueue(task{id: id, run: job})
	})
	s.timers[id] = timer
	s.jmu.Unlock()

	s.log.Debug("one-shot armed", logx.String("id", id), logx.Time("at", runAt))
	return nil
}

// ArmRecurring registers a cron entry that keeps firing the job at the
// rule's occurrences until cancelled. Re-arming an id replaces its job.
func (s *Service) ArmRecurring(id string, rec storage.Recurrence, tod timeparse.TimeOfDay, job Job) error {
	spec, err := CronSpec(rec, tod)
	if err != nil {
		return err
	}

	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c == nil {
		return ErrStopped
	}

	s.jmu.Lock()
	defer s.jmu.Unlock()
	s.cancelLocked(id)

	eid, err := c.AddFunc(spec, func() {
		s.enqueue(task{id: id, run: job})
	})
	if err != nil {
		return fmt.Errorf("register %q: %w", spec, err)
	}
	s.entries[id] = eid
	s.log.Debug("recurring armed", logx.String("id", id), logx.String("spec", spec))
	return nil
}

// AddMaintenance registers an internal cron job (e.g. the notification
// retention sweep) that is not tied to a reminder id.
func (s *Service) AddMaintenance(name, spec string, job Job) error {
	return s.ArmRecurringSpec("maint:"+name, spec, job)
}

// ArmRecurringSpec is ArmRecurring for a raw cron spec.
func (s *Service) ArmRecurringSpec(id, spec string, job Job) error {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c == nil {
		return ErrStopped
	}
	s.jmu.Lock()
	defer s.jmu.Unlock()
	s.cancelLocked(id)
	eid, err := c.AddFunc(spec, func() {
		s.enqueue(task{id: id, run: job})
	})
	if err != nil {
		return fmt.Errorf("register %q: %w", spec, err)
	}
	s.entries[id] = eid
	return nil
}

// Cancel removes the job for id, if any. Idempotent; reports whether a job
// existed. The handle is gone when Cancel returns, though a callback that
// already started may still complete.
func (s *Service) Cancel(id string) bool {
	s.jmu.Lock()
	removed := s.cancelLocked(id)
	s.jmu.Unlock()
	if removed {
		s.log.Debug("job cancelled", logx.String("id", id))
	}
	return removed
}

// Armed reports whether id currently has a live job.
func (s *Service) Armed(id string) bool {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if _, ok := s.timers[id]; ok {
		return true
	}
	_, ok := s.entries[id]
	return ok
}

// Snapshot returns recent job executions, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

// cancelLocked removes both kinds of handle. Call with jmu held.
func (s *Service) cancelLocked(id string) bool {
	removed := false
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
		delete(s.onceVer, id)
		removed = true
	}
	if eid, ok := s.entries[id]; ok {
		s.mu.Lock()
		c := s.c
		s.mu.Unlock()
		if c != nil {
			c.Remove(eid)
		}
		delete(s.entries, id)
		removed = true
	}
	return removed
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- t:
	default:
		s.log.Warn("scheduler queue full, dropping job", logx.String("id", t.id))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	start := time.Now()
	err := t.run(ctx)

	item := HistoryItem{ID: t.id, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job failed", logx.String("id", t.id), logx.Err(err))
	} else {
		s.log.Debug("job ok", logx.String("id", t.id), logx.Duration("took", item.Duration))
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	s.hmu.Unlock()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// CronSpec translates a recurrence rule plus time of day into a 5-field
// cron spec. The rule stores Monday=0..Sunday=6; cron wants Sunday=0.
func CronSpec(rec storage.Recurrence, tod timeparse.TimeOfDay) (string, error) {
	switch rec.Type {
	case storage.RecurDaily:
		return fmt.Sprintf("%d %d * * *", tod.Minute, tod.Hour), nil
	case storage.RecurWeekly:
		if rec.DayOfWeek < 0 || rec.DayOfWeek > 6 {
			return "", fmt.Errorf("invalid day_of_week %d", rec.DayOfWeek)
		}
		cronDow := (rec.DayOfWeek + 1) % 7
		return fmt.Sprintf("%d %d * * %d", tod.Minute, tod.Hour, cronDow), nil
	case storage.RecurMonthly:
		// First day of each month, as the assistant has always done.
		return fmt.Sprintf("%d %d 1 * *", tod.Minute, tod.Hour), nil
	default:
		return "", fmt.Errorf("unknown recurrence type %q", rec.Type)
	}
}
