package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"eckod/internal/eventbus"
	"eckod/internal/storage"
	logx "eckod/pkg/logx"
)

// brokenStore fails every operation, simulating an unreachable backend.
type brokenStore struct{}

func (brokenStore) SaveReminder(context.Context, storage.Reminder) error { return storage.ErrUnavailable }
func (brokenStore) GetReminder(context.Context, string) (storage.Reminder, bool, error) {
	return storage.Reminder{}, false, storage.ErrUnavailable
}
func (brokenStore) ListReminders(context.Context, string, bool) ([]storage.Reminder, error) {
	return nil, storage.ErrUnavailable
}
func (brokenStore) ListActiveReminders(context.Context) ([]storage.Reminder, error) {
	return nil, storage.ErrUnavailable
}
func (brokenStore) SetReminderActive(context.Context, string, bool) error {
	return storage.ErrUnavailable
}
func (brokenStore) DeleteReminder(context.Context, string) (bool, error) {
	return false, storage.ErrUnavailable
}
func (brokenStore) SaveNotification(context.Context, storage.Notification) error {
	return storage.ErrUnavailable
}
func (brokenStore) ListUnreadNotifications(context.Context, string) ([]storage.Notification, error) {
	return nil, storage.ErrUnavailable
}
func (brokenStore) MarkNotificationsRead(context.Context, string) error {
	return storage.ErrUnavailable
}
func (brokenStore) DeleteNotificationsBefore(context.Context, time.Time) (int64, error) {
	return 0, storage.ErrUnavailable
}
func (brokenStore) Close() error { return nil }

type fakeChannel struct {
	name     string
	failures int32 // deliveries to fail before succeeding
	calls    atomic.Int32
	got      chan string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(_ context.Context, _, title, message string, _ map[string]string) error {
	n := f.calls.Add(1)
	if f.failures >= n {
		return errors.New("transient")
	}
	f.got <- title + "|" + message
	return nil
}

func TestEmitAndPoll(t *testing.T) {
	t.Parallel()
	s := New(Config{}, storage.NewMemory(), nil, logx.Nop())
	ctx := context.Background()

	n, err := s.Emit(ctx, "u1", "rem-1", "tomar la pastilla")
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if n.ID == "" || n.OwnerID != "u1" || n.ReminderID != "rem-1" {
		t.Fatalf("notification = %+v", n)
	}

	got, err := s.Poll(ctx, "u1", true)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || got[0].Message != "tomar la pastilla" {
		t.Fatalf("poll = %+v", got)
	}
	if !got[0].Read {
		t.Fatal("cleared notification still reported unread")
	}

	got, err = s.Poll(ctx, "u1", true)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("second poll = %+v, want empty", got)
	}
}

func TestPollPeekKeepsUnread(t *testing.T) {
	t.Parallel()
	s := New(Config{}, storage.NewMemory(), nil, logx.Nop())
	ctx := context.Background()

	if _, err := s.Emit(ctx, "u1", "", "hola"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := s.Poll(ctx, "u1", false)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("peek %d = %+v, want 1 notification", i, got)
		}
		if got[0].Read {
			t.Fatalf("peek %d marked the notification read", i)
		}
	}
}

func TestRingFallbackAndCap(t *testing.T) {
	t.Parallel()
	s := New(Config{RingCapacity: 3}, brokenStore{}, nil, logx.Nop())
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.Emit(ctx, "u1", "", msg); !errors.Is(err, storage.ErrUnavailable) {
			t.Fatalf("Emit(%s) err = %v, want ErrUnavailable", msg, err)
		}
	}

	// The durable store is down, so Poll serves the in-memory ring: newest
	// three, oldest dropped.
	got, err := s.Poll(ctx, "u1", true)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ring = %d items, want 3", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i].Message != want {
			t.Fatalf("ring[%d] = %q, want %q", i, got[i].Message, want)
		}
		if !got[i].Read {
			t.Fatalf("ring[%d] still reported unread after clearing", i)
		}
	}

	got, err = s.Poll(ctx, "u1", true)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ring not cleared: %+v", got)
	}
}

func TestDeliveryThroughChannel(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Title: "🔔 Ecko", RatePerSec: 100}, storage.NewMemory(), bus, logx.Nop())
	ch := &fakeChannel{name: "fake", got: make(chan string, 1)}
	s.RegisterChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if _, err := s.Emit(ctx, "u1", "rem-1", "regar las plantas"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case got := <-ch.got:
		if got != "🔔 Ecko|regar las plantas" {
			t.Fatalf("delivered %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never happened")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeNotifyDelivered {
				return
			}
		case <-deadline:
			t.Fatal("notify.delivered event never published")
		}
	}
}

func TestDeliveryRetries(t *testing.T) {
	t.Parallel()
	s := New(Config{
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, storage.NewMemory(), nil, logx.Nop())
	ch := &fakeChannel{name: "flaky", failures: 2, got: make(chan string, 1)}
	s.RegisterChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if _, err := s.Emit(ctx, "u1", "", "insistir"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-ch.got:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never succeeded after retries")
	}
	if calls := ch.calls.Load(); calls != 3 {
		t.Fatalf("delivery attempts = %d, want 3", calls)
	}
}

func TestSweepDeletesOldRows(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()

	old := storage.Notification{ID: "old", OwnerID: "u1", CreatedAt: time.Now().Add(-10 * 24 * time.Hour)}
	if err := store.SaveNotification(ctx, old); err != nil {
		t.Fatalf("SaveNotification: %v", err)
	}

	s := New(Config{}, store, nil, logx.Nop())
	if _, err := s.Emit(ctx, "u1", "", "fresca"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	deleted, err := s.Sweep(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	left, err := store.ListUnreadNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(left) != 1 || left[0].Message != "fresca" {
		t.Fatalf("left = %+v", left)
	}
}
