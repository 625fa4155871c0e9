package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore keeps everything in process memory. It backs tests and
// persistence-less deployments; records do not survive a restart.
type memStore struct {
	mu        sync.Mutex
	reminders map[string]Reminder
	notifs    map[string]Notification
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		reminders: map[string]Reminder{},
		notifs:    map[string]Notification{},
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) SaveReminder(_ context.Context, r Reminder) error {
	s.mu.Lock()
	s.reminders[r.ID] = cloneReminder(r)
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetReminder(_ context.Context, id string) (Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return Reminder{}, false, nil
	}
	return cloneReminder(r), true, nil
}

func (s *memStore) ListReminders(_ context.Context, ownerID string, activeOnly bool) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.OwnerID != ownerID {
			continue
		}
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, cloneReminder(r))
	}
	sortReminders(out)
	return out, nil
}

func (s *memStore) ListActiveReminders(_ context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.Active {
			out = append(out, cloneReminder(r))
		}
	}
	sortReminders(out)
	return out, nil
}

func (s *memStore) SetReminderActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reminders[id]; ok {
		r.Active = active
		s.reminders[id] = r
	}
	return nil
}

func (s *memStore) DeleteReminder(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return false, nil
	}
	delete(s.reminders, id)
	return true, nil
}

func (s *memStore) SaveNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	s.notifs[n.ID] = n
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListUnreadNotifications(_ context.Context, ownerID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notifs {
		if n.OwnerID == ownerID && !n.Read {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) MarkNotificationsRead(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.notifs {
		if n.OwnerID == ownerID && !n.Read {
			n.Read = true
			s.notifs[id] = n
		}
	}
	return nil
}

func (s *memStore) DeleteNotificationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, x := range s.notifs {
		if x.CreatedAt.Before(cutoff) {
			delete(s.notifs, id)
			n++
		}
	}
	return n, nil
}

// sortReminders orders by target time ascending, untimed last, creation
// time as tiebreak. Matches the sqlite driver's ORDER BY.
func sortReminders(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		switch {
		case a.TargetAt == nil && b.TargetAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.TargetAt == nil:
			return false
		case b.TargetAt == nil:
			return true
		case !a.TargetAt.Equal(*b.TargetAt):
			return a.TargetAt.Before(*b.TargetAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}

func cloneReminder(r Reminder) Reminder {
	if r.TargetAt != nil {
		t := *r.TargetAt
		r.TargetAt = &t
	}
	if r.Recurrence != nil {
		rec := *r.Recurrence
		r.Recurrence = &rec
	}
	return r
}
