// Command migrate applies the embedded schema migrations and verifies the
// pieces double-booking prevention depends on.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/bharath3010/curalink-backend/internal/config"
	appmigrations "github.com/bharath3010/curalink-backend/migrations"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// migrator is the subset of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// opener connects to databaseURL and returns a migrator over the embedded
// migrations plus the underlying handle for schema checks.
type opener func(databaseURL string) (migrator, *sql.DB, error)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := rootCmd(cfg, logger, openMigrator).Execute(); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd(cfg *appconfig.Config, logger *logging.Logger, open opener) *cobra.Command {
	// withMigrator opens, runs fn, and always closes both handles.
	withMigrator := func(fn func(m migrator, db *sql.DB) error) error {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required")
		}
		m, db, err := open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = m.Close()
			if db != nil {
				_ = db.Close()
			}
		}()
		return fn(m, db)
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations and verify the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m migrator, db *sql.DB) error {
				return runUp(cmd.Context(), m, db, logger)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back the given number of migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := strconv.Atoi(args[0])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid steps %q: must be a positive integer", args[0])
			}
			return withMigrator(func(m migrator, _ *sql.DB) error {
				if err := m.Steps(-steps); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info("migrations rolled back", "steps", steps)
				return nil
			})
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as the given version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withMigrator(func(m migrator, _ *sql.DB) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				logger.Info("schema version forced", "version", version)
				return nil
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m migrator, _ *sql.DB) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					logger.Info("schema version", "version", "none")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read version: %w", err)
				}
				logger.Info("schema version", "version", v, "dirty", dirty)
				if dirty {
					return fmt.Errorf("schema version %d is dirty, fix it and run force %d", v, v)
				}
				return nil
			})
		},
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the curalink database schema",
		SilenceUsage: true,
		// Bare "migrate" behaves like "migrate up" so container entrypoints stay simple.
		Args: cobra.NoArgs,
		RunE: up.RunE,
	}
	root.AddCommand(up, down, force, version)
	return root
}

func runUp(ctx context.Context, m migrator, db *sql.DB, logger *logging.Logger) error {
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("schema already up to date")
	}
	if db != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := verifySchema(ctx, db); err != nil {
			return err
		}
	}
	logger.Info("migrations complete")
	return nil
}

// schemaChecks are the database objects the booking ledger cannot work without.
var schemaChecks = []struct {
	name  string
	query string
}{
	{"btree_gist extension", `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'btree_gist')`},
	{"appointments_no_overlap constraint", `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'appointments_no_overlap')`},
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, check := range schemaChecks {
		var ok bool
		if err := db.QueryRowContext(ctx, check.query).Scan(&ok); err != nil {
			return fmt.Errorf("verify %s: %w", check.name, err)
		}
		if !ok {
			return fmt.Errorf("verify schema: %s is missing", check.name)
		}
	}
	return nil
}

func openMigrator(databaseURL string) (migrator, *sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	// WithInstance leaves db open after m.Close, so it is closed separately.
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db driver: %w", err)
	}
	src, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, db, nil
}
