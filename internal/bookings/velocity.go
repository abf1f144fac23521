package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// VelocityConfig limits how many bookings a patient may attempt per window.
type VelocityConfig struct {
	MaxAttemptsPerPatient int
	Window                time.Duration
}

func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{MaxAttemptsPerPatient: 5, Window: time.Hour}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// VelocityChecker counts booking attempts in Redis. It fails open: if Redis is
// unreachable the attempt is allowed.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &VelocityChecker{redis: redisClient, logger: logger, config: config}
}

func velocityKey(patientID uuid.UUID) string {
	return fmt.Sprintf("velocity:booking:%s", patientID)
}

// CheckBooking records one attempt for patientID and reports whether it is within limits.
func (v *VelocityChecker) CheckBooking(ctx context.Context, patientID uuid.UUID) (*VelocityResult, error) {
	ctx, span := tracer.Start(ctx, "bookings.velocity")
	defer span.End()
	span.SetAttributes(attribute.String("patient.id", patientID.String()))

	if v == nil || v.redis == nil || v.config.MaxAttemptsPerPatient <= 0 {
		return &VelocityResult{Allowed: true}, nil
	}

	key := velocityKey(patientID)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxAttemptsPerPatient,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxAttemptsPerPatient,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d booking attempts in %s", v.config.MaxAttemptsPerPatient, v.config.Window)
		v.logger.Warn("booking velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.config.MaxAttemptsPerPatient,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the patient's counter.
func (v *VelocityChecker) Reset(ctx context.Context, patientID uuid.UUID) error {
	return v.redis.Del(ctx, velocityKey(patientID)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}
