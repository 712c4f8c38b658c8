package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/hive/internal/config"
	"github.com/nextlevelbuilder/hive/internal/store/migrations"
)

// migrator pairs the migrate handle with the database it was built on.
// golang-migrate leaves instance-provided connections open, so Close has
// to cover both.
type migrator struct {
	*migrate.Migrate
	db *sql.DB
}

func (m *migrator) Close() {
	m.Migrate.Close()
	m.db.Close()
}

// newMigrator builds a migrator for the configured store backend. The
// migration files ship embedded in the binary, per driver.
func newMigrator() (*migrator, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			return nil, fmt.Errorf("store driver is postgres but HIVE_POSTGRES_DSN is not set")
		}
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		src, err := iofs.New(migrations.Postgres, "postgres")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open migration source: %w", err)
		}
		drv, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create migrator: %w", err)
		}
		return &migrator{Migrate: m, db: db}, nil

	default:
		db, err := sql.Open("sqlite", "file:"+cfg.DBPath()+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		src, err := iofs.New(migrations.SQLite, "sqlite")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open migration source: %w", err)
		}
		drv, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create migrator: %w", err)
		}
		return &migrator{Migrate: m, db: db}, nil
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	cmd.AddCommand(migrateGotoCmd())
	cmd.AddCommand(migrateDropCmd())

	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}

			v, dirty, _ := m.Version()
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}

			v, dirty, _ := m.Version()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("no migrations applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Force(version); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			slog.Info("forced version", "version", version)
			return nil
		},
	}
}

func migrateGotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Migrate.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate goto: %w", err)
			}
			slog.Info("migrated to version", "version", version)
			return nil
		},
	}
}

func migrateDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop all tables (DANGEROUS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Drop(); err != nil {
				return fmt.Errorf("drop: %w", err)
			}
			slog.Info("all tables dropped")
			return nil
		},
	}
}
