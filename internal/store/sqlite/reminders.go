package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// ReminderStore implements store.ReminderStore.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore { return &ReminderStore{db: db} }

const reminderCols = `id, user_id, text, is_complete, created_at, completed_at, due_at, notified_at`

func scanReminder(scan func(dest ...any) error) (*store.Reminder, error) {
	var r store.Reminder
	var created int64
	var completed, due, notified sql.NullInt64
	err := scan(&r.ID, &r.UserID, &r.Text, &r.IsComplete, &created, &completed, &due, &notified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reminder: %w", err)
	}
	r.CreatedAt = msTime(created)
	r.CompletedAt = nullTime(completed)
	r.DueAt = nullTime(due)
	r.NotifiedAt = nullTime(notified)
	return &r, nil
}

func (s *ReminderStore) Create(ctx context.Context, r *store.Reminder) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (`+reminderCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Text, r.IsComplete, ms(r.CreatedAt),
		nullMS(r.CompletedAt), nullMS(r.DueAt), nullMS(r.NotifiedAt))
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *ReminderStore) Get(ctx context.Context, userID, id string) (*store.Reminder, error) {
	return scanReminder(s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ? AND user_id = ?`, id, userID).Scan)
}

func (s *ReminderStore) List(ctx context.Context, userID string, includeComplete bool) ([]*store.Reminder, error) {
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE user_id = ?`
	if !includeComplete {
		q += ` AND is_complete = 0`
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func collectReminders(rows *sql.Rows) ([]*store.Reminder, error) {
	var out []*store.Reminder
	for rows.Next() {
		r, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ReminderStore) Complete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_complete = 1, completed_at = ? WHERE id = ? AND user_id = ?`,
		ms(time.Now()), id, userID)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "reminders", id)
	}
	return nil
}

func (s *ReminderStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "reminders", id)
	}
	return nil
}

func (s *ReminderStore) SetDue(ctx context.Context, userID, id string, dueAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET due_at = ?, notified_at = NULL WHERE id = ? AND user_id = ?`,
		ms(dueAt), id, userID)
	if err != nil {
		return fmt.Errorf("set due: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "reminders", id)
	}
	return nil
}

func (s *ReminderStore) Due(ctx context.Context, now time.Time) ([]*store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE is_complete = 0 AND due_at IS NOT NULL AND due_at <= ? AND notified_at IS NULL
		 ORDER BY due_at, id`, ms(now))
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *ReminderStore) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET notified_at = ? WHERE id = ? AND notified_at IS NULL`,
		ms(at), id)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
