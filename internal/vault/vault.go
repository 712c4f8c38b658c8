// Package vault provides authenticated encryption at rest for user
// credentials. Values are sealed with AES-256-GCM under a master key stored
// next to the data; the blob layout is base64(iv[12] || tag[16] || ciphertext).
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/hive/internal/store"
)

const (
	keyFileName = "encryption.key"
	keySize     = 32
	ivSize      = 12
	tagSize     = 16
)

// ErrIntegrity is returned when a stored blob fails GCM authentication.
// The credential is unusable and must be re-entered; it is never repaired.
var ErrIntegrity = errors.New("corrupted credential")

// Vault encrypts and decrypts user credentials. The master key is read once
// at construction and immutable afterwards.
type Vault struct {
	key   []byte
	creds store.CredentialStore
}

// Open loads the master key from <dataDir>/encryption.key, generating a new
// one with mode 0600 on first use.
func Open(dataDir string, creds store.CredentialStore) (*Vault, error) {
	key, err := loadOrCreateKey(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return nil, err
	}
	return &Vault{key: key, creds: creds}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(string(bytesTrimSpace(data)))
		if decErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("vault: key file %s is malformed", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("vault: read key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("vault: create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("vault: write key: %w", err)
	}
	slog.Info("vault: generated master key", "path", path)
	return key, nil
}

func bytesTrimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}

// Encrypt seals plaintext into the base64 blob layout iv || tag || ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: init gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	// Go appends the tag to the ciphertext; the stored layout keeps the tag
	// between the iv and the ciphertext instead.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, ivSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. A tampered or truncated blob
// yields ErrIntegrity.
func (v *Vault) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrIntegrity)
	}
	if len(blob) < ivSize+tagSize {
		return "", fmt.Errorf("%w: blob too short", ErrIntegrity)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: init gcm: %w", err)
	}

	iv := blob[:ivSize]
	tag := blob[ivSize : ivSize+tagSize]
	ct := blob[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return string(plaintext), nil
}

// Store encrypts value and persists it as a credential owned by ownerID.
func (v *Vault) Store(ctx context.Context, ownerID, name, service, value string) (*store.UserCredential, error) {
	encrypted, err := v.Encrypt(value)
	if err != nil {
		return nil, err
	}
	cred := &store.UserCredential{
		OwnerID:        ownerID,
		Name:           name,
		Service:        service,
		EncryptedValue: encrypted,
	}
	if err := v.creds.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return cred, nil
}

// Reveal decrypts the credential with the given id after verifying that
// requesterID owns it.
func (v *Vault) Reveal(ctx context.Context, requesterID, id string) (string, error) {
	cred, err := v.creds.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if cred.OwnerID != requesterID {
		return "", store.ErrUnauthorized
	}
	return v.Decrypt(cred.EncryptedValue)
}

// ResolveByName decrypts the requester's credential with the given name.
// Workflow credential bindings resolve through here.
func (v *Vault) ResolveByName(ctx context.Context, requesterID, name string) (string, error) {
	cred, err := v.creds.GetByName(ctx, requesterID, name)
	if err != nil {
		return "", err
	}
	if cred.OwnerID != requesterID {
		return "", store.ErrUnauthorized
	}
	return v.Decrypt(cred.EncryptedValue)
}

// List returns the owner's credentials as metadata only; the encrypted value
// never leaves the vault.
func (v *Vault) List(ctx context.Context, ownerID string) ([]*store.UserCredential, error) {
	creds, err := v.creds.ListForUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.UserCredential, len(creds))
	for i, c := range creds {
		meta := *c
		meta.EncryptedValue = ""
		out[i] = &meta
	}
	return out, nil
}

// Delete removes the owner's credential.
func (v *Vault) Delete(ctx context.Context, ownerID, id string) error {
	return v.creds.Delete(ctx, ownerID, id)
}
