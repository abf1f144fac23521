// Command seed-workhours gives every doctor without work hours the default
// weekly template.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/bharath3010/curalink-backend/internal/config"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd(appconfig.Load()).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(cfg *appconfig.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "seed-workhours",
		Short:        "Seed default work hours for doctors that have none",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetString("hours")
			rawIDs, _ := cmd.Flags().GetStringSlice("doctor")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			ids, err := parseDoctorIDs(rawIDs)
			if err != nil {
				return err
			}
			logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			return run(cmd.Context(), cfg.DatabaseURL, hours, schedule.BackfillOptions{DoctorIDs: ids, DryRun: dryRun}, logger)
		},
	}
	cmd.Flags().String("hours", cfg.DefaultWorkHours, "Weekly template, e.g. 1-5=09:00-17:00;6=09:00-13:00")
	cmd.Flags().StringSlice("doctor", nil, "Limit to these doctor ids")
	cmd.Flags().Bool("dry-run", false, "List the doctors that would be seeded without writing")
	return cmd
}

func parseDoctorIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("doctor id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func run(ctx context.Context, databaseURL, hours string, opts schedule.BackfillOptions, logger *logging.Logger) error {
	if strings.TrimSpace(databaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	tmpl, err := schedule.ParseWeeklyTemplate(hours)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// lib/pq registers the "postgres" driver through the schedule package.
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	result, err := schedule.Backfill(ctx, db, tmpl, opts)
	if err != nil {
		return err
	}
	for _, id := range result.Seeded {
		logger.Info("doctor work hours seeded", "doctor_id", id, "dry_run", opts.DryRun)
	}
	logger.Info("work hours backfill complete", "doctors", len(result.Seeded), "windows_per_doctor", len(tmpl), "dry_run", opts.DryRun)
	return nil
}
