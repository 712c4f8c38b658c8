// Package sqlite implements the store interfaces on an embedded SQLite
// database (modernc.org/sqlite, no cgo). This is the default backend.
//
// Time columns are INTEGER unix milliseconds; booleans are INTEGER 0/1.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/migrations"
)

// Open opens the database file, creating its directory if needed, and
// applies pending migrations.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between writer goroutines.
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.SQLite, "sqlite")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	drv, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewStores opens the database at path and returns the full store set.
func NewStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &store.Stores{
		Users:         NewUserStore(db),
		Identities:    NewIdentityStore(db),
		Conversations: NewConversationStore(db),
		Usage:         NewUsageStore(db),
		Skills:        NewSkillStore(db),
		Scripts:       NewScriptStore(db),
		Reminders:     NewReminderStore(db),
		Workflows:     NewWorkflowStore(db),
		Schedules:     NewScheduleStore(db),
		Credentials:   NewCredentialStore(db),
		Files:         NewFileStore(db),
		DebugLogs:     NewDebugLogStore(db),
	}
	s.SetCloser(db.Close)
	return s, nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func msTime(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
