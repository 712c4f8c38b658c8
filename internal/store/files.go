package store

import (
	"context"
	"time"
)

// FileMetadata describes one file in a user's workspace files/ directory.
// Tracked files retain a .prev sibling snapshot on overwrite so workflows
// can diff against the previous upload.
type FileMetadata struct {
	UserID         string
	Filename       string
	Tracked        bool
	LastUploadedAt time.Time
}

// FileStore persists workspace file metadata.
type FileStore interface {
	Upsert(ctx context.Context, f *FileMetadata) error
	Get(ctx context.Context, userID, filename string) (*FileMetadata, error)
	ListForUser(ctx context.Context, userID string) ([]*FileMetadata, error)
	SetTracked(ctx context.Context, userID, filename string, tracked bool) error
	Delete(ctx context.Context, userID, filename string) error
}
