package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/bharath3010/curalink-backend/internal/config"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

func TestParseDoctorIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids, err := parseDoctorIDs([]string{a.String(), " " + b.String(), ""})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	_, err = parseDoctorIDs([]string{"not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-uuid")
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	err := run(context.Background(), "  ", "1-5=09:00-17:00", schedule.BackfillOptions{}, logging.New("error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRunRejectsBadTemplate(t *testing.T) {
	err := run(context.Background(), "postgres://localhost/curalink", "8=09:00-17:00", schedule.BackfillOptions{}, logging.New("error"))
	require.Error(t, err)
}

func TestRootCmdRejectsBadDoctorFlag(t *testing.T) {
	cmd := rootCmd(&appconfig.Config{DatabaseURL: "postgres://localhost/curalink", LogLevel: "error"})
	cmd.SetArgs([]string{"--doctor", "nope", "--dry-run"})
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRootCmdDefaultsHoursFromConfig(t *testing.T) {
	cmd := rootCmd(&appconfig.Config{DefaultWorkHours: "1-5=08:00-16:00"})
	hours, err := cmd.Flags().GetString("hours")
	require.NoError(t, err)
	assert.Equal(t, "1-5=08:00-16:00", hours)
}
