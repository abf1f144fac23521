package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

const dateLayout = "2006-01-02"

var tracer = otel.Tracer("curalink.internal.availability")

// ValidationError reports a malformed availability query.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("availability: %s: %s", e.Field, e.Message)
}

// BookedSource lists a doctor's non-cancelled appointments overlapping [from, to).
type BookedSource interface {
	BookedIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Interval, error)
}

// Config tunes the read path.
type Config struct {
	GranularityMinutes     int
	DefaultDurationMinutes int
	MaxDurationMinutes     int
	// MinLeadTime hides slots starting sooner than now+MinLeadTime.
	MinLeadTime time.Duration
}

// Result is the response of a single-day query.
type Result struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Date     string    `json:"date"`
	Timezone string    `json:"timezone"`
	Slots    []Slot    `json:"slots"`
}

// Service answers "which slots can this doctor take on this date".
type Service struct {
	schedule schedule.Store
	booked   BookedSource
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewService(store schedule.Store, booked BookedSource, cfg Config, logger *logging.Logger) *Service {
	if store == nil || booked == nil {
		panic("availability: schedule store and booked source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.GranularityMinutes <= 0 {
		cfg.GranularityMinutes = DefaultGranularityMinutes
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = cfg.GranularityMinutes
	}
	return &Service{
		schedule: store,
		booked:   booked,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Query returns the free slots for doctorID on dateRaw (YYYY-MM-DD, doctor's
// local calendar). durationMinutes <= 0 uses the configured default.
func (s *Service) Query(ctx context.Context, doctorID uuid.UUID, dateRaw string, durationMinutes int) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "availability.query")
	defer span.End()
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.ObserveAvailability(outcome, time.Since(started).Seconds())
	}()

	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctorId", Message: "is required"}
	}
	dateRaw = strings.TrimSpace(dateRaw)
	if dateRaw == "" {
		return nil, &ValidationError{Field: "date", Message: "is required"}
	}
	if durationMinutes <= 0 {
		durationMinutes = s.cfg.DefaultDurationMinutes
	}
	if s.cfg.MaxDurationMinutes > 0 && durationMinutes > s.cfg.MaxDurationMinutes {
		return nil, &ValidationError{Field: "duration", Message: fmt.Sprintf("must be at most %d minutes", s.cfg.MaxDurationMinutes)}
	}

	loc, err := s.schedule.DoctorLocation(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	date, err := time.ParseInLocation(dateLayout, dateRaw, loc)
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	span.SetAttributes(
		attribute.String("doctor.id", doctorID.String()),
		attribute.String("availability.date", dateRaw),
		attribute.Int("availability.duration_minutes", durationMinutes),
	)

	windows, err := s.schedule.WindowsForWeekday(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: load windows: %w", err)
	}
	from, to := DayBounds(date)
	booked, err := s.booked.BookedIntervals(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: load booked intervals: %w", err)
	}

	slots := ComputeAvailableSlots(windows, booked, date, Params{
		GranularityMinutes: s.cfg.GranularityMinutes,
		DurationMinutes:    durationMinutes,
	})
	slots = dropBefore(slots, s.now().Add(s.cfg.MinLeadTime))

	s.logger.Debug("availability computed",
		"doctor_id", doctorID,
		"date", dateRaw,
		"windows", len(windows),
		"booked", len(booked),
		"slots", len(slots),
	)
	return &Result{DoctorID: doctorID, Date: dateRaw, Timezone: loc.String(), Slots: slots}, nil
}

func dropBefore(slots []Slot, cutoff time.Time) []Slot {
	out := slots[:0]
	for _, slot := range slots {
		if !slot.Start.Before(cutoff) {
			out = append(out, slot)
		}
	}
	return out
}
