// Package store defines the persistence interfaces and entity types used
// across the daemon. Backends live in store/sqlite and store/pg; callers
// depend only on the interfaces here.
package store

import (
	"errors"

	"github.com/google/uuid"
)

// SystemUserID owns built-in scripts and skill templates. It is created by
// bootstrap seeding and is never resolved from a channel identity.
const SystemUserID = "system"

var (
	// ErrNotFound is returned when a requested entity does not exist or is
	// not visible to the requesting owner.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when an entity exists but belongs to a
	// different owner.
	ErrUnauthorized = errors.New("access denied")
)

// Config selects and parameterizes a storage backend.
type Config struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// Path is the SQLite database file, typically <dataDir>/data.db.
	Path string
	// DSN is the Postgres connection string when Driver is "postgres".
	DSN string
}

// Stores aggregates one store per entity. A backend factory fills every
// field; none may be nil.
type Stores struct {
	Users         UserStore
	Identities    IdentityStore
	Conversations ConversationStore
	Usage         UsageStore
	Skills        SkillStore
	Scripts       ScriptStore
	Reminders     ReminderStore
	Workflows     WorkflowStore
	Schedules     ScheduleStore
	Credentials   CredentialStore
	Files         FileStore
	DebugLogs     DebugLogStore

	closer func() error
}

// NewID returns a time-sortable UUIDv7 string. All entity ids use this.
func NewID() string { return uuid.Must(uuid.NewV7()).String() }

// SetCloser registers the backend teardown hook invoked by Close.
func (s *Stores) SetCloser(fn func() error) { s.closer = fn }

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
