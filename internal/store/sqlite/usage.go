package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// UsageStore implements store.UsageStore.
type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore { return &UsageStore{db: db} }

func (s *UsageStore) Log(ctx context.Context, u *store.UsageLog) error {
	if u.ID == "" {
		u.ID = store.NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (id, user_id, model, tokens_in, tokens_out, cost_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserID, u.Model, u.TokensIn, u.TokensOut, u.CostCents, ms(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// DebugLogStore implements store.DebugLogStore.
type DebugLogStore struct {
	db *sql.DB
}

func NewDebugLogStore(db *sql.DB) *DebugLogStore { return &DebugLogStore{db: db} }

func (s *DebugLogStore) Write(ctx context.Context, e *store.DebugLogEntry) error {
	if e.ID == "" {
		e.ID = store.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO debug_logs (id, user_id, conversation_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ConversationID, string(e.Payload), ms(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert debug log: %w", err)
	}
	return nil
}

func (s *DebugLogStore) List(ctx context.Context, userID, conversationID string, limit int) ([]*store.DebugLogEntry, error) {
	q := `SELECT id, user_id, conversation_id, payload, created_at
	      FROM debug_logs WHERE user_id = ? AND conversation_id = ?
	      ORDER BY created_at DESC, id DESC`
	args := []any{userID, conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list debug logs: %w", err)
	}
	defer rows.Close()

	var out []*store.DebugLogEntry
	for rows.Next() {
		var e store.DebugLogEntry
		var payload string
		var created int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConversationID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan debug log: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = msTime(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}
