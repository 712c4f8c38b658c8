// Package pg implements the store interfaces on PostgreSQL via the pgx
// stdlib driver. Selected with store.driver = "postgres".
package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/migrations"
)

// Open connects to Postgres and applies pending migrations.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	drv, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewStores connects to dsn and returns the full store set.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := Open(dsn)
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

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
