package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/upgrade"
)

var migrationsDir string

// resolveMigrationsDir picks --migrations-dir, $INBOXD_MIGRATIONS_DIR,
// ./migrations, then the directory next to the executable.
func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if v := os.Getenv("INBOXD_MIGRATIONS_DIR"); v != "" {
		return v
	}
	if _, err := os.Stat("migrations"); err == nil {
		return "migrations"
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "migrations")
	}
	return "migrations"
}

// managedDSN returns the Postgres DSN. Migrations only exist for managed mode;
// the sqlite store creates its schema on open.
func managedDSN() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return "", errors.New("INBOXD_POSTGRES_DSN is not set (migrations apply to managed mode only)")
	}
	return cfg.Database.PostgresDSN, nil
}

// withMigrator runs fn against a migrator for the managed database and closes it.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	dsn, err := managedDSN()
	if err != nil {
		return err
	}
	m, err := migrate.New("file://"+resolveMigrationsDir(), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return fn(m)
}

// schemaStatus reads the applied version the same way the gateway does at startup.
func schemaStatus(ctx context.Context) (*upgrade.SchemaStatus, error) {
	dsn, err := managedDSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return upgrade.CheckSchema(ctx, db)
}

// describeSchema renders a status for humans, including the command that fixes it.
func describeSchema(s *upgrade.SchemaStatus) string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("v%d DIRTY: a migration failed half-way; fix the database, then run: inboxd migrate force %d",
			s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		return fmt.Sprintf("v%d up to date", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("v%d is newer than this binary (requires v%d); upgrade inboxd", s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("v%d, %d migration(s) pending (requires v%d); run: inboxd migrate up",
			s.CurrentVersion, s.RequiredVersion-s.CurrentVersion, s.RequiredVersion)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the managed-mode Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateStatusCmd())
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
			err := withMigrator(func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			s, err := schemaStatus(cmd.Context())
			if err != nil {
				return err
			}
			slog.Info("migration complete", "schema", describeSchema(s))
			if !s.Compatible {
				return errors.New(upgrade.FormatError(s))
			}
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
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-max(steps, 1)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("rollback complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Show the schema version and whether this binary can run on it",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := schemaStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("schema:   %s\n", describeSchema(s))
			fmt.Printf("required: v%d (inboxd %s)\n", s.RequiredVersion, Version)
			if !s.Compatible {
				os.Exit(1)
			}
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as <version> without running migrations (clears dirty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "version", version)
				return nil
			})
		},
	}
}

func migrateGotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			if uint(version) > upgrade.RequiredSchemaVersion {
				return fmt.Errorf("version %d is newer than this binary knows (max %d)", version, upgrade.RequiredSchemaVersion)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate goto: %w", err)
				}
				slog.Info("migrated to version", "version", version)
				return nil
			})
		},
	}
}

func migrateDropCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table, including messages and error records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to drop without --yes")
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Drop(); err != nil {
					return fmt.Errorf("drop: %w", err)
				}
				slog.Warn("all tables dropped")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping all data")
	return cmd
}
