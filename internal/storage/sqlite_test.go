package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "eckod/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ecko.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteReminderRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	target := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	r := Reminder{
		ID:        "r1",
		OwnerID:   "u1",
		RawText:   "sacar la basura a las 15:30",
		Message:   "sacar la basura",
		CreatedAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
		TargetAt:  &target,
		Active:    true,
	}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	got, found, err := s.GetReminder(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("GetReminder = (%v, %v)", found, err)
	}
	if got.OwnerID != "u1" || got.Message != "sacar la basura" || !got.Active {
		t.Fatalf("got %+v", got)
	}
	if got.TargetAt == nil || !got.TargetAt.Equal(target) {
		t.Fatalf("target = %v, want %v", got.TargetAt, target)
	}
	if got.Recurrence != nil || got.TimeOfDay != "" {
		t.Fatalf("unexpected recurrence fields: %+v", got)
	}

	if _, found, err := s.GetReminder(ctx, "missing"); err != nil || found {
		t.Fatalf("missing id = (%v, %v), want (false, nil)", found, err)
	}
}

func TestSQLiteRecurrenceJSON(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	r := Reminder{
		ID: "r1", OwnerID: "u1", Message: "gym",
		CreatedAt:  time.Now().UTC(),
		Recurrence: &Recurrence{Type: RecurWeekly, DayOfWeek: 4},
		TimeOfDay:  "07:00",
		Active:     true,
	}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}

	got, _, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Recurrence == nil || got.Recurrence.Type != RecurWeekly || got.Recurrence.DayOfWeek != 4 {
		t.Fatalf("recurrence = %+v", got.Recurrence)
	}
	if got.TimeOfDay != "07:00" {
		t.Fatalf("time of day = %q", got.TimeOfDay)
	}
}

func TestSQLiteUpsertAndActiveToggle(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	r := Reminder{ID: "r1", OwnerID: "u1", Message: "v1", CreatedAt: time.Now().UTC(), Active: true}
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}
	r.Message = "v2"
	if err := s.SaveReminder(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetReminderActive(ctx, "r1", false); err != nil {
		t.Fatalf("SetReminderActive: %v", err)
	}

	got, _, err := s.GetReminder(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Message != "v2" || got.Active {
		t.Fatalf("got %+v, want message v2 and inactive", got)
	}

	active, err := s.ListActiveReminders(ctx)
	if err != nil {
		t.Fatalf("ListActiveReminders: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %+v, want none", active)
	}
}

func TestSQLiteListOrdering(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, r := range []Reminder{
		{ID: "note", OwnerID: "u1", CreatedAt: base, Active: true},
		{ID: "late", OwnerID: "u1", CreatedAt: base, TargetAt: ts(18), Active: true},
		{ID: "early", OwnerID: "u1", CreatedAt: base, TargetAt: ts(9), Active: true},
	} {
		if err := s.SaveReminder(ctx, r); err != nil {
			t.Fatalf("SaveReminder(%s): %v", r.ID, err)
		}
	}

	got, err := s.ListReminders(ctx, "u1", false)
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	wantOrder := []string{"early", "late", "note"}
	if len(got) != 3 {
		t.Fatalf("got %d reminders", len(got))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestSQLiteDeleteReported(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()

	if err := s.SaveReminder(ctx, Reminder{ID: "r1", OwnerID: "u1", CreatedAt: time.Now().UTC(), Active: true}); err != nil {
		t.Fatalf("SaveReminder: %v", err)
	}
	ok, err := s.DeleteReminder(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("delete = (%v, %v)", ok, err)
	}
	ok, err = s.DeleteReminder(ctx, "r1")
	if err != nil || ok {
		t.Fatalf("second delete = (%v, %v)", ok, err)
	}
}

func TestSQLiteNotificationsLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, n := range []Notification{
		{ID: "n1", ReminderID: "r1", OwnerID: "u1", Message: "first", CreatedAt: now.Add(-time.Hour)},
		{ID: "n2", OwnerID: "u1", Message: "second", CreatedAt: now},
		{ID: "n3", OwnerID: "u2", Message: "other owner", CreatedAt: now},
		{ID: "old", OwnerID: "u1", Message: "stale", CreatedAt: now.Add(-10 * 24 * time.Hour)},
	} {
		if err := s.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification(%s): %v", n.ID, err)
		}
	}

	deleted, err := s.DeleteNotificationsBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("sweep = (%d, %v), want (1, nil)", deleted, err)
	}

	unread, err := s.ListUnreadNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(unread) != 2 || unread[0].ID != "n1" || unread[1].ID != "n2" {
		t.Fatalf("unread = %+v", unread)
	}
	if unread[0].ReminderID != "r1" {
		t.Fatalf("reminder id lost: %+v", unread[0])
	}

	if err := s.MarkNotificationsRead(ctx, "u1"); err != nil {
		t.Fatalf("MarkNotificationsRead: %v", err)
	}
	unread, err = s.ListUnreadNotifications(ctx, "u1")
	if err != nil || len(unread) != 0 {
		t.Fatalf("after mark = (%+v, %v)", unread, err)
	}

	other, err := s.ListUnreadNotifications(ctx, "u2")
	if err != nil || len(other) != 1 {
		t.Fatalf("other owner = (%+v, %v)", other, err)
	}
}
