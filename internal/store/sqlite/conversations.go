package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// ConversationStore implements store.ConversationStore.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore { return &ConversationStore{db: db} }

const convCols = `id, user_id, title, summary, created_at, updated_at`

func scanConversation(row *sql.Row) (*store.Conversation, error) {
	var c store.Conversation
	var created, updated int64
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = msTime(created), msTime(updated)
	return &c, nil
}

func (s *ConversationStore) Create(ctx context.Context, c *store.Conversation) error {
	if c.ID == "" {
		c.ID = store.NewID()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Summary, ms(c.CreatedAt), ms(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*store.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = ?`, id))
}

func (s *ConversationStore) Latest(ctx context.Context, userID string) (*store.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC LIMIT 1`, userID))
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string, limit int) ([]*store.Conversation, error) {
	q := `SELECT ` + convCols + ` FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		var c store.Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt, c.UpdatedAt = msTime(created), msTime(updated)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *ConversationStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, ms(m.CreatedAt)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		ms(m.CreatedAt), m.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *ConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	q := `SELECT id, conversation_id, role, content, created_at
	      FROM messages WHERE conversation_id = ? ORDER BY created_at, id`
	args := []any{conversationID}
	if limit > 0 {
		// Most recent limit rows, returned oldest-first.
		q = `SELECT id, conversation_id, role, content, created_at FROM (
		       SELECT id, conversation_id, role, content, created_at
		       FROM messages WHERE conversation_id = ?
		       ORDER BY created_at DESC, id DESC LIMIT ?
		     ) ORDER BY created_at, id`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		var m store.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = msTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *ConversationStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
