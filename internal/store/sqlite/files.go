package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

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
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, filename) DO UPDATE SET
		   tracked = excluded.tracked,
		   last_uploaded_at = excluded.last_uploaded_at`,
		f.UserID, f.Filename, f.Tracked, ms(f.LastUploadedAt))
	if err != nil {
		return fmt.Errorf("upsert file metadata: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, userID, filename string) (*store.FileMetadata, error) {
	var f store.FileMetadata
	var uploaded int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, filename, tracked, last_uploaded_at
		 FROM file_metadata WHERE user_id = ? AND filename = ?`, userID, filename).
		Scan(&f.UserID, &f.Filename, &f.Tracked, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file metadata: %w", err)
	}
	f.LastUploadedAt = msTime(uploaded)
	return &f, nil
}

func (s *FileStore) ListForUser(ctx context.Context, userID string) ([]*store.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, filename, tracked, last_uploaded_at
		 FROM file_metadata WHERE user_id = ? ORDER BY filename`, userID)
	if err != nil {
		return nil, fmt.Errorf("list file metadata: %w", err)
	}
	defer rows.Close()

	var out []*store.FileMetadata
	for rows.Next() {
		var f store.FileMetadata
		var uploaded int64
		if err := rows.Scan(&f.UserID, &f.Filename, &f.Tracked, &uploaded); err != nil {
			return nil, fmt.Errorf("scan file metadata: %w", err)
		}
		f.LastUploadedAt = msTime(uploaded)
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *FileStore) SetTracked(ctx context.Context, userID, filename string, tracked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE file_metadata SET tracked = ? WHERE user_id = ? AND filename = ?`,
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
		`DELETE FROM file_metadata WHERE user_id = ? AND filename = ?`, userID, filename)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
