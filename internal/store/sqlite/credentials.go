package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// CredentialStore implements store.CredentialStore.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore { return &CredentialStore{db: db} }

const credentialCols = `id, owner_id, name, service, encrypted_value, created_at, updated_at`

func scanCredential(scan func(dest ...any) error) (*store.UserCredential, error) {
	var c store.UserCredential
	var created, updated int64
	err := scan(&c.ID, &c.OwnerID, &c.Name, &c.Service, &c.EncryptedValue, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select credential: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = msTime(created), msTime(updated)
	return &c, nil
}

func (s *CredentialStore) Create(ctx context.Context, c *store.UserCredential) error {
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
		`INSERT INTO user_credentials (`+credentialCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, name) DO UPDATE SET
		   service = excluded.service,
		   encrypted_value = excluded.encrypted_value,
		   updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Name, c.Service, c.EncryptedValue, ms(c.CreatedAt), ms(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, id string) (*store.UserCredential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE id = ?`, id).Scan)
}

func (s *CredentialStore) GetByName(ctx context.Context, ownerID, name string) (*store.UserCredential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE owner_id = ? AND name = ?`,
		ownerID, name).Scan)
}

func (s *CredentialStore) ListForUser(ctx context.Context, ownerID string) ([]*store.UserCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*store.UserCredential
	for rows.Next() {
		c, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CredentialStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_credentials WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "user_credentials", id)
	}
	return nil
}
