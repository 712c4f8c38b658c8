package store

import (
	"context"
	"time"
)

// UserCredential is an encrypted user secret. EncryptedValue is
// base64(iv[12] || tag[16] || ciphertext) under AES-256-GCM; only the vault
// reads or writes it.
type UserCredential struct {
	ID             string
	OwnerID        string
	Name           string
	Service        string
	EncryptedValue string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CredentialStore persists encrypted credentials. Ownership enforcement is
// the vault's job; the store only scopes queries.
type CredentialStore interface {
	Create(ctx context.Context, c *UserCredential) error
	Get(ctx context.Context, id string) (*UserCredential, error)
	GetByName(ctx context.Context, ownerID, name string) (*UserCredential, error)
	ListForUser(ctx context.Context, ownerID string) ([]*UserCredential, error)
	Delete(ctx context.Context, ownerID, id string) error
}
