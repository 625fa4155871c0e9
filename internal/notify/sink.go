package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"eckod/internal/eventbus"
	"eckod/internal/storage"
	logx "eckod/pkg/logx"
)

type deliveryJob struct {
	ch Channel
	n  storage.Notification
}

// Sink receives fire events, persists them as notification rows, keeps a
// bounded per-owner queue for polling, and pushes best-effort deliveries
// through every registered channel.
//
// It is safe for concurrent use: fire callbacks and foreground poll calls
// run simultaneously.
type Sink struct {
	mu sync.Mutex

	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	channels []Channel

	accepting bool
	queue     chan deliveryJob
	stopCh    chan struct{}
	workerWG  sync.WaitGroup

	// rmu guards the per-owner pending rings.
	rmu   sync.Mutex
	rings map[string][]storage.Notification
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{
		log:   log,
		store: store,
		bus:   bus,
		rings: map[string][]storage.Notification{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Sink) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Sink) applyLocked(cfg Config) {
	if cfg.Title == "" {
		cfg.Title = "🔔 Ecko"
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// RegisterChannel adds a delivery transport. Call before Start.
func (s *Sink) RegisterChannel(ch Channel) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	s.log.Info("delivery channel registered", logx.String("channel", ch.Name()))
}

// Retention returns the configured sweep age.
func (s *Sink) Retention() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Retention
}

func (s *Sink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan deliveryJob, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.accepting = true

	workers := s.cfg.Workers
	queue := s.queue
	stopCh := s.stopCh
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer s.workerWG.Done()
			s.workerLoop(ctx, stopCh, queue)
		}()
	}
}

// Stop stops intake and waits for in-flight deliveries best-effort until
// ctx expires. Durable rows are unaffected.
func (s *Sink) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.queue = nil
	s.stopCh = nil
	s.accepting = false
	s.mu.Unlock()

	close(stopCh)
	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Emit persists one notification row for the fire event, appends it to the
// owner's pending queue, and enqueues async delivery through every
// registered channel.
//
// The returned error reflects persistence only; delivery failures never
// propagate. Even when persistence fails the notification stays visible in
// the in-memory queue.
func (s *Sink) Emit(ctx context.Context, ownerID, reminderID, message string) (storage.Notification, error) {
	n := storage.Notification{
		ID:         uuid.NewString(),
		ReminderID: reminderID,
		OwnerID:    ownerID,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}

	saveErr := s.store.SaveNotification(ctx, n)
	if saveErr != nil {
		s.log.Warn("notification persist failed, keeping in memory only",
			logx.String("owner", ownerID), logx.Err(saveErr))
	}

	s.appendRing(n)
	s.dispatch(n)

	s.log.Info("notification emitted",
		logx.String("owner", ownerID), logx.String("reminder", reminderID), logx.String("id", n.ID))
	return n, saveErr
}

// Poll returns the owner's unread notifications, marking them read in the
// same operation unless clearAfter is false (peek). When the durable store
// is unreachable it falls back to the in-memory pending queue.
func (s *Sink) Poll(ctx context.Context, ownerID string, clearAfter bool) ([]storage.Notification, error) {
	out, err := s.store.ListUnreadNotifications(ctx, ownerID)
	if err != nil {
		s.log.Warn("notification poll falling back to memory", logx.String("owner", ownerID), logx.Err(err))
		return s.pollRing(ownerID, clearAfter), nil
	}

	if clearAfter {
		if err := s.store.MarkNotificationsRead(ctx, ownerID); err != nil {
			return nil, err
		}
		s.clearRing(ownerID)
		// The rows are read now; the returned copies should say so too.
		for i := range out {
			out[i].Read = true
		}
	}
	return out, nil
}

// Sweep deletes notifications older than maxAge regardless of read state.
func (s *Sink) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	n, err := s.store.DeleteNotificationsBefore(ctx, cutoff)
	if err == nil && n > 0 {
		s.log.Info("notification retention sweep", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	}
	return n, err
}

func (s *Sink) appendRing(n storage.Notification) {
	s.mu.Lock()
	cap_ := s.cfg.RingCapacity
	s.mu.Unlock()

	s.rmu.Lock()
	ring := append(s.rings[n.OwnerID], n)
	if len(ring) > cap_ {
		ring = ring[len(ring)-cap_:]
	}
	s.rings[n.OwnerID] = ring
	s.rmu.Unlock()
}

func (s *Sink) pollRing(ownerID string, clear bool) []storage.Notification {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	out := append([]storage.Notification(nil), s.rings[ownerID]...)
	if clear {
		delete(s.rings, ownerID)
		for i := range out {
			out[i].Read = true
		}
	}
	return out
}

func (s *Sink) clearRing(ownerID string) {
	s.rmu.Lock()
	delete(s.rings, ownerID)
	s.rmu.Unlock()
}

// dispatch fans the notification out to every channel. Non-blocking: when
// the delivery queue is full the job is dropped (and logged) rather than
// stalling a fire callback.
func (s *Sink) dispatch(n storage.Notification) {
	s.mu.Lock()
	queue := s.queue
	accepting := s.accepting
	channels := append([]Channel(nil), s.channels...)
	s.mu.Unlock()

	if !accepting || queue == nil || len(channels) == 0 {
		return
	}
	for _, ch := range channels {
		select {
		case queue <- deliveryJob{ch: ch, n: n}:
		default:
			s.log.Warn("delivery queue full, dropping",
				logx.String("channel", ch.Name()), logx.String("owner", n.OwnerID))
			s.publish(eventbus.TypeNotifyDropped, ch.Name(), n, ErrQueueFull.Error())
		}
	}
}

func (s *Sink) workerLoop(ctx context.Context, stopCh <-chan struct{}, queue <-chan deliveryJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Sink) deliverWithRetry(ctx context.Context, j deliveryJob) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	meta := map[string]string{"type": "reminder"}
	if j.n.ReminderID != "" {
		meta["reminder_id"] = j.n.ReminderID
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		// Bound per-delivery call so a stuck channel never blocks other
		// reminders from firing.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := j.ch.Deliver(callCtx, j.n.OwnerID, cfg.Title, j.n.Message, meta)
		cancel()
		if err == nil {
			s.publish(eventbus.TypeNotifyDelivered, j.ch.Name(), j.n, "")
			s.log.Debug("delivered", logx.String("channel", j.ch.Name()), logx.String("owner", j.n.OwnerID))
			return
		}
		lastErr = err
		s.log.Debug("delivery failed", logx.String("channel", j.ch.Name()), logx.Err(err), logx.Int("attempt", attempt))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.log.Warn("delivery gave up", logx.String("channel", j.ch.Name()), logx.String("owner", j.n.OwnerID), logx.Err(lastErr))
		s.publish(eventbus.TypeNotifyFailed, j.ch.Name(), j.n, lastErr.Error())
	}
}

func (s *Sink) publish(typ, channel string, n storage.Notification, errStr string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: DeliveryEvent{
		Channel:        channel,
		OwnerID:        n.OwnerID,
		NotificationID: n.ID,
		ReminderID:     n.ReminderID,
		At:             now,
		Error:          errStr,
	}})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
