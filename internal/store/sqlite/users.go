package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// UserStore implements store.UserStore.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db} }

func (s *UserStore) Ensure(ctx context.Context, id string) (*store.User, error) {
	u, err := s.Get(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	now := ms(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, config, created_at, updated_at)
		 VALUES (?, '', '{}', ?, ?) ON CONFLICT (id) DO NOTHING`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *UserStore) Get(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	var configJSON string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, config, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &configJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &u.Config); err != nil || u.Config == nil {
		u.Config = map[string]string{}
	}
	u.CreatedAt, u.UpdatedAt = msTime(created), msTime(updated)
	return &u, nil
}

func (s *UserStore) UpdateConfig(ctx context.Context, id string, config map[string]string) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET config = ?, updated_at = ? WHERE id = ?`,
		string(raw), ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update user config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IdentityStore implements store.IdentityStore.
type IdentityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) *IdentityStore { return &IdentityStore{db: db} }

const identityCols = `id, owner_id, channel, channel_user_id, created_at`

func scanIdentity(row *sql.Row) (*store.ChannelIdentity, error) {
	var ident store.ChannelIdentity
	var created int64
	err := row.Scan(&ident.ID, &ident.OwnerID, &ident.Channel, &ident.ChannelUserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}
	ident.CreatedAt = msTime(created)
	return &ident, nil
}

func (s *IdentityStore) Resolve(ctx context.Context, channel, channelUserID string) (*store.ChannelIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE channel = ? AND channel_user_id = ?`,
		channel, channelUserID))
}

func (s *IdentityStore) Get(ctx context.Context, id string) (*store.ChannelIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE id = ?`, id))
}

func (s *IdentityStore) ListForUser(ctx context.Context, ownerID string) ([]*store.ChannelIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE owner_id = ? ORDER BY created_at, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*store.ChannelIdentity
	for rows.Next() {
		var ident store.ChannelIdentity
		var created int64
		if err := rows.Scan(&ident.ID, &ident.OwnerID, &ident.Channel, &ident.ChannelUserID, &created); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.CreatedAt = msTime(created)
		out = append(out, &ident)
	}
	return out, rows.Err()
}

func (s *IdentityStore) Link(ctx context.Context, ident *store.ChannelIdentity) error {
	if ident.ID == "" {
		ident.ID = store.NewID()
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_identities (id, owner_id, channel, channel_user_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ident.ID, ident.OwnerID, ident.Channel, ident.ChannelUserID, ms(ident.CreatedAt))
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) Unlink(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_identities WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("unlink identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "channel_identities", id)
	}
	return nil
}

// ownershipErr distinguishes a missing row from one owned by someone else
// after a scoped write matched nothing.
func ownershipErr(ctx context.Context, db *sql.DB, table, id string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if err == nil {
		return store.ErrUnauthorized
	}
	return store.ErrNotFound
}
