package pg

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
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, config, created_at, updated_at)
		 VALUES ($1, '', '{}', $2, $3) ON CONFLICT (id) DO NOTHING`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *UserStore) Get(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	var configJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, config, created_at, updated_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &configJSON, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if err := json.Unmarshal(configJSON, &u.Config); err != nil || u.Config == nil {
		u.Config = map[string]string{}
	}
	return &u, nil
}

func (s *UserStore) UpdateConfig(ctx context.Context, id string, config map[string]string) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET config = $1, updated_at = $2 WHERE id = $3`,
		raw, time.Now(), id)
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

func scanIdentity(scan func(dest ...any) error) (*store.ChannelIdentity, error) {
	var ident store.ChannelIdentity
	err := scan(&ident.ID, &ident.OwnerID, &ident.Channel, &ident.ChannelUserID, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}
	return &ident, nil
}

func (s *IdentityStore) Resolve(ctx context.Context, channel, channelUserID string) (*store.ChannelIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE channel = $1 AND channel_user_id = $2`,
		channel, channelUserID).Scan)
}

func (s *IdentityStore) Get(ctx context.Context, id string) (*store.ChannelIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE id = $1`, id).Scan)
}

func (s *IdentityStore) ListForUser(ctx context.Context, ownerID string) ([]*store.ChannelIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityCols+` FROM channel_identities WHERE owner_id = $1 ORDER BY created_at, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*store.ChannelIdentity
	for rows.Next() {
		ident, err := scanIdentity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
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
		 VALUES ($1, $2, $3, $4, $5)`,
		ident.ID, ident.OwnerID, ident.Channel, ident.ChannelUserID, ident.CreatedAt)
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) Unlink(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_identities WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("unlink identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "channel_identities", id)
	}
	return nil
}

func ownershipErr(ctx context.Context, db *sql.DB, table, id string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if err == nil {
		return store.ErrUnauthorized
	}
	return store.ErrNotFound
}
