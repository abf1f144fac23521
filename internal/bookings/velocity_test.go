package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestVelocityChecker_CheckBooking(t *testing.T) {
	client, _ := setupTestRedis(t)
	checker := NewVelocityChecker(client, VelocityConfig{MaxAttemptsPerPatient: 3, Window: time.Hour}, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		attempts    int
		wantAllowed bool
	}{
		{"first attempt allowed", 1, true},
		{"at limit allowed", 3, true},
		{"over limit blocked", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient := uuid.New()
			var result *VelocityResult
			var err error
			for i := 0; i < tt.attempts; i++ {
				result, err = checker.CheckBooking(ctx, patient)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.attempts, result.CurrentCount)
			if !tt.wantAllowed {
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestVelocityChecker_WindowExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	checker := NewVelocityChecker(client, VelocityConfig{MaxAttemptsPerPatient: 1, Window: time.Minute}, nil)
	ctx := context.Background()
	patient := uuid.New()

	first, err := checker.CheckBooking(ctx, patient)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := checker.CheckBooking(ctx, patient)
	require.NoError(t, err)
	assert.False(t, second.Allowed)

	mr.FastForward(2 * time.Minute)
	third, err := checker.CheckBooking(ctx, patient)
	require.NoError(t, err)
	assert.True(t, third.Allowed)
}

func TestVelocityChecker_FailsOpen(t *testing.T) {
	client, mr := setupTestRedis(t)
	checker := NewVelocityChecker(client, VelocityConfig{MaxAttemptsPerPatient: 1, Window: time.Minute}, nil)
	mr.Close()

	result, err := checker.CheckBooking(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "velocity check unavailable", result.Message)
}

func TestVelocityChecker_Reset(t *testing.T) {
	client, _ := setupTestRedis(t)
	checker := NewVelocityChecker(client, VelocityConfig{MaxAttemptsPerPatient: 1, Window: time.Minute}, nil)
	ctx := context.Background()
	patient := uuid.New()

	_, _ = checker.CheckBooking(ctx, patient)
	require.NoError(t, checker.Reset(ctx, patient))
	result, err := checker.CheckBooking(ctx, patient)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestVelocityChecker_NilIsPermissive(t *testing.T) {
	var checker *VelocityChecker
	result, err := checker.CheckBooking(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
