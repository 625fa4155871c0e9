package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "eckod/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat is fixed-width so string comparison in SQL matches
// chronological order (RFC3339Nano drops trailing zeros and does not).
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./eckod.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveReminder(ctx context.Context, r Reminder) error {
	var recJSON any
	if r.Recurrence != nil {
		b, err := json.Marshal(r.Recurrence)
		if err != nil {
			return wrap(err)
		}
		recJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, owner_id, raw_text, message, created_at, target_at, recurrence, time_of_day, active)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   message=excluded.message, target_at=excluded.target_at,
		   recurrence=excluded.recurrence, time_of_day=excluded.time_of_day,
		   active=excluded.active`,
		r.ID, r.OwnerID, r.RawText, r.Message,
		r.CreatedAt.UTC().Format(timeFormat),
		nullTime(r.TargetAt), recJSON, nullStr(r.TimeOfDay), boolInt(r.Active),
	)
	return wrap(err)
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (Reminder, bool, error) {
	row := s.db.QueryRowContext(ctx, selectReminder+` WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, wrap(err)
	}
	return r, true, nil
}

const selectReminder = `SELECT id, owner_id, raw_text, message, created_at, target_at, recurrence, time_of_day, active FROM reminders`

// Untimed reminders sort last (treated as an infinite target).
const reminderOrder = ` ORDER BY CASE WHEN target_at IS NULL THEN 1 ELSE 0 END, target_at ASC, created_at ASC`

func (s *sqliteStore) ListReminders(ctx context.Context, ownerID string, activeOnly bool) ([]Reminder, error) {
	q := selectReminder + ` WHERE owner_id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+reminderOrder, ownerID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *sqliteStore) ListActiveReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectReminder+` WHERE active = 1`+reminderOrder)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *sqliteStore) SetReminderActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reminders SET active = ? WHERE id = ?`, boolInt(active), id)
	return wrap(err)
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return false, wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

func (s *sqliteStore) SaveNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, reminder_id, owner_id, message, created_at, read)
		 VALUES(?,?,?,?,?,?)`,
		n.ID, nullStr(n.ReminderID), n.OwnerID, n.Message,
		n.CreatedAt.UTC().Format(timeFormat), boolInt(n.Read),
	)
	return wrap(err)
}

func (s *sqliteStore) ListUnreadNotifications(ctx context.Context, ownerID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, owner_id, message, created_at, read
		 FROM notifications WHERE owner_id = ? AND read = 0 ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n       Notification
			remID   sql.NullString
			created string
			read    int
		)
		if err := rows.Scan(&n.ID, &remID, &n.OwnerID, &n.Message, &created, &read); err != nil {
			return nil, wrap(err)
		}
		n.ReminderID = remID.String
		n.Read = read != 0
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			n.CreatedAt = t
		}
		out = append(out, n)
	}
	return out, wrap(rows.Err())
}

func (s *sqliteStore) MarkNotificationsRead(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE owner_id = ?`, ownerID)
	return wrap(err)
}

func (s *sqliteStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, wrap(err)
	}
	n, err := res.RowsAffected()
	return n, wrap(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var (
		r       Reminder
		created string
		target  sql.NullString
		rec     sql.NullString
		tod     sql.NullString
		active  int
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.RawText, &r.Message, &created, &target, &rec, &tod, &active); err != nil {
		return Reminder{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		r.CreatedAt = t
	}
	if target.Valid {
		if t, err := time.Parse(time.RFC3339Nano, target.String); err == nil {
			r.TargetAt = &t
		}
	}
	if rec.Valid && rec.String != "" {
		var rr Recurrence
		if err := json.Unmarshal([]byte(rec.String), &rr); err == nil {
			r.Recurrence = &rr
		}
	}
	r.TimeOfDay = tod.String
	r.Active = active != 0
	return r, nil
}

func collectReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, r)
	}
	return out, wrap(rows.Err())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
