package pg

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
	err := scan(&c.ID, &c.OwnerID, &c.Name, &c.Service, &c.EncryptedValue, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select credential: %w", err)
	}
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
		`INSERT INTO user_credentials (`+credentialCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (owner_id, name) DO UPDATE SET
		   service = excluded.service,
		   encrypted_value = excluded.encrypted_value,
		   updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Name, c.Service, c.EncryptedValue, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, id string) (*store.UserCredential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE id = $1`, id).Scan)
}

func (s *CredentialStore) GetByName(ctx context.Context, ownerID, name string) (*store.UserCredential, error) {
	return scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE owner_id = $1 AND name = $2`,
		ownerID, name).Scan)
}

func (s *CredentialStore) ListForUser(ctx context.Context, ownerID string) ([]*store.UserCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialCols+` FROM user_credentials WHERE owner_id = $1 ORDER BY name`, ownerID)
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
		`DELETE FROM user_credentials WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "user_credentials", id)
	}
	return nil
}

// FileStore implements store.FileStore.
type FileStore struct {
	db *sql.DB
}

func NewFileStore(db *sql.DB) *FileStore { return &FileStore{db: db} }

func (s *FileStore) Upsert(ctx context.Context, f *store.FileMetadata) error {
	if f.LastUploadedAt.IsZero() {
		f.LastUploadedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_metadata (user_id, filename, tracked, last_uploaded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, filename) DO UPDATE SET
		   tracked = excluded.tracked,
		   last_uploaded_at = excluded.last_uploaded_at`,
		f.UserID, f.Filename, f.Tracked, f.LastUploadedAt)
	if err != nil {
		return fmt.Errorf("upsert file metadata: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, userID, filename string) (*store.FileMetadata, error) {
	var f store.FileMetadata
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, filename, tracked, last_uploaded_at
		 FROM file_metadata WHERE user_id = $1 AND filename = $2`, userID, filename).
		Scan(&f.UserID, &f.Filename, &f.Tracked, &f.LastUploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file metadata: %w", err)
	}
	return &f, nil
}

func (s *FileStore) ListForUser(ctx context.Context, userID string) ([]*store.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, filename, tracked, last_uploaded_at
		 FROM file_metadata WHERE user_id = $1 ORDER BY filename`, userID)
	if err != nil {
		return nil, fmt.Errorf("list file metadata: %w", err)
	}
	defer rows.Close()

	var out []*store.FileMetadata
	for rows.Next() {
		var f store.FileMetadata
		if err := rows.Scan(&f.UserID, &f.Filename, &f.Tracked, &f.LastUploadedAt); err != nil {
			return nil, fmt.Errorf("scan file metadata: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *FileStore) SetTracked(ctx context.Context, userID, filename string, tracked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_metadata SET tracked = $1 WHERE user_id = $2 AND filename = $3`,
		tracked, userID, filename)
	if err != nil {
		return fmt.Errorf("set tracked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, userID, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM file_metadata WHERE user_id = $1 AND filename = $2`, userID, filename)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
