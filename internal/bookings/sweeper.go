package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Sweeper releases slots held by unpaid appointments and completes past ones.
type Sweeper struct {
	ledger     Ledger
	pendingTTL time.Duration
	logger     *logging.Logger
	metrics    *metrics.BookingMetrics
	now        func() time.Time
	timeout    time.Duration
}

func NewSweeper(ledger Ledger, pendingTTL time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if pendingTTL <= 0 {
		pendingTTL = 30 * time.Minute
	}
	return &Sweeper{
		ledger:     ledger,
		pendingTTL: pendingTTL,
		logger:     logger,
		now:        time.Now,
		timeout:    30 * time.Second,
	}
}

func (s *Sweeper) WithMetrics(m *metrics.BookingMetrics) *Sweeper {
	s.metrics = m
	return s
}

// SweepResult counts what one pass changed.
type SweepResult struct {
	Expired   int
	Completed int
}

// Sweep runs one pass. Both steps run even if the first fails.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	expired, expireErr := s.ledger.ExpirePending(ctx, now.Add(-s.pendingTTL))
	if expireErr == nil {
		result.Expired = len(expired)
		s.metrics.ObserveSweep(string(StatusCancelled), result.Expired)
		for _, appt := range expired {
			s.logger.Info("pending appointment expired",
				"appointment_id", appt.ID,
				"doctor_id", appt.DoctorID,
				"created_at", appt.CreatedAt,
			)
		}
	}

	completed, completeErr := s.ledger.CompletePast(ctx, now)
	if completeErr == nil {
		result.Completed = completed
		s.metrics.ObserveSweep(string(StatusCompleted), completed)
	}

	switch {
	case expireErr != nil && completeErr != nil:
		return result, fmt.Errorf("bookings: sweep: %w; %w", expireErr, completeErr)
	case expireErr != nil:
		return result, fmt.Errorf("bookings: sweep: %w", expireErr)
	case completeErr != nil:
		return result, fmt.Errorf("bookings: sweep: %w", completeErr)
	}
	return result, nil
}

// Schedule registers the sweep on c using a cron spec such as "@every 1m".
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		result, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("appointment sweep failed", "error", err)
			return
		}
		if result.Expired > 0 || result.Completed > 0 {
			s.logger.Info("appointment sweep finished", "expired", result.Expired, "completed", result.Completed)
		}
	})
}

// NewCron returns a cron runner that skips a tick while the previous one is
// still running.
func NewCron(logger *logging.Logger) *cron.Cron {
	if logger == nil {
		logger = logging.Default()
	}
	cl := cronLogger{logger: logger}
	return cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)))
}

type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
