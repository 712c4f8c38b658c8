package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
)

func testVault(t *testing.T) (*Vault, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	v, err := Open(dir, sqlite.NewCredentialStore(db))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return v, dir
}

func TestKeyFileGeneratedOnce(t *testing.T) {
	_, dir := testVault(t)

	path := filepath.Join(dir, "encryption.key")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}
	first, _ := os.ReadFile(path)

	// Re-opening must reuse the existing key, not rotate it.
	db, err := sqlite.Open(filepath.Join(dir, "data2.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := Open(dir, sqlite.NewCredentialStore(db)); err != nil {
		t.Fatalf("reopen vault: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Error("master key changed across opens")
	}
	if len(strings.TrimSpace(string(first))) != 64 {
		t.Errorf("key file holds %d hex chars, want 64", len(strings.TrimSpace(string(first))))
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, _ := testVault(t)

	for _, plaintext := range []string{"", "hunter2", "sk-ant-api03-xxxx", strings.Repeat("long ", 500)} {
		blob, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := v.Decrypt(blob)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	v, _ := testVault(t)

	a, _ := v.Encrypt("same value")
	b, _ := v.Encrypt("same value")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestBlobLayout(t *testing.T) {
	v, _ := testVault(t)

	blob, err := v.Encrypt("abc")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob is not base64: %v", err)
	}
	// iv(12) + tag(16) + ciphertext(len(plaintext)).
	if len(raw) != 12+16+3 {
		t.Errorf("blob length = %d, want %d", len(raw), 12+16+3)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	v, _ := testVault(t)

	blob, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)

	cases := map[string]func([]byte) string{
		"flipped ciphertext bit": func(b []byte) string {
			c := append([]byte(nil), b...)
			c[len(c)-1] ^= 0x01
			return base64.StdEncoding.EncodeToString(c)
		},
		"flipped tag bit": func(b []byte) string {
			c := append([]byte(nil), b...)
			c[12] ^= 0x01
			return base64.StdEncoding.EncodeToString(c)
		},
		"truncated": func(b []byte) string {
			return base64.StdEncoding.EncodeToString(b[:10])
		},
		"not base64": func(b []byte) string {
			return "%%%not-base64%%%"
		},
	}
	for name, mutate := range cases {
		if _, err := v.Decrypt(mutate(raw)); !errors.Is(err, ErrIntegrity) {
			t.Errorf("%s: err = %v, want ErrIntegrity", name, err)
		}
	}
}

func TestStoreAndReveal(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	cred, err := v.Store(ctx, "alice", "github-token", "github", "ghp_abc123")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if cred.ID == "" {
		t.Fatal("store did not assign an id")
	}
	if cred.EncryptedValue == "ghp_abc123" {
		t.Fatal("credential stored in plaintext")
	}

	got, err := v.Reveal(ctx, "alice", cred.ID)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if got != "ghp_abc123" {
		t.Errorf("reveal = %q, want ghp_abc123", got)
	}

	if _, err := v.Reveal(ctx, "mallory", cred.ID); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("cross-user reveal err = %v, want ErrUnauthorized", err)
	}
}

func TestResolveByName(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	if _, err := v.Store(ctx, "alice", "api-key", "brevo", "xkeysib-123"); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := v.ResolveByName(ctx, "alice", "api-key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "xkeysib-123" {
		t.Errorf("resolve = %q, want xkeysib-123", got)
	}

	if _, err := v.ResolveByName(ctx, "mallory", "api-key"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user resolve err = %v, want ErrNotFound", err)
	}
	if _, err := v.ResolveByName(ctx, "alice", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing name err = %v, want ErrNotFound", err)
	}
}

func TestListHidesEncryptedValue(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	if _, err := v.Store(ctx, "alice", "one", "svc", "v1"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := v.Store(ctx, "alice", "two", "svc", "v2"); err != nil {
		t.Fatalf("store: %v", err)
	}

	creds, err := v.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("list returned %d credentials, want 2", len(creds))
	}
	for _, c := range creds {
		if c.EncryptedValue != "" {
			t.Errorf("credential %s leaked its encrypted value via List", c.Name)
		}
	}
}

func TestDelete(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	cred, err := v.Store(ctx, "alice", "gone", "svc", "v")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := v.Delete(ctx, "mallory", cred.ID); !errors.Is(err, store.ErrUnauthorized) && !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cross-user delete err = %v, want ownership error", err)
	}
	if err := v.Delete(ctx, "alice", cred.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Reveal(ctx, "alice", cred.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("reveal after delete err = %v, want ErrNotFound", err)
	}
}

func TestMalformedKeyFileRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "encryption.key"), []byte("not-hex"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	db, err := sqlite.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := Open(dir, sqlite.NewCredentialStore(db)); err == nil {
		t.Fatal("open succeeded with a malformed key file")
	}
}
