package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

var tracer = otel.Tracer("curalink.internal.bookings")

// Config bounds what a booking request may ask for.
type Config struct {
	DefaultDurationMinutes int
	MinDurationMinutes     int
	MaxDurationMinutes     int
	MaxReasonLength        int
	MinLeadTime            time.Duration
	// EnforceWorkHours rejects requests that do not fit inside one of the doctor's windows.
	EnforceWorkHours bool
}

func DefaultConfig() Config {
	return Config{
		DefaultDurationMinutes: 30,
		MinDurationMinutes:     15,
		MaxDurationMinutes:     120,
		MaxReasonLength:        500,
		EnforceWorkHours:       true,
	}
}

// Service validates booking requests and hands them to the ledger.
type Service struct {
	ledger   Ledger
	schedule schedule.Store
	velocity *VelocityChecker
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewService(ledger Ledger, cfg Config, logger *logging.Logger) *Service {
	if ledger == nil {
		panic("bookings: ledger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	defaults := DefaultConfig()
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = defaults.DefaultDurationMinutes
	}
	if cfg.MinDurationMinutes <= 0 {
		cfg.MinDurationMinutes = defaults.MinDurationMinutes
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = defaults.MaxDurationMinutes
	}
	if cfg.MaxReasonLength <= 0 {
		cfg.MaxReasonLength = defaults.MaxReasonLength
	}
	return &Service{ledger: ledger, cfg: cfg, logger: logger, now: time.Now}
}

// WithSchedule enables the work-hours check.
func (s *Service) WithSchedule(store schedule.Store) *Service {
	s.schedule = store
	return s
}

func (s *Service) WithVelocity(v *VelocityChecker) *Service {
	s.velocity = v
	return s
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Book validates req and reserves the slot. It returns a *ValidationError,
// ErrSlotConflict, ErrRateLimited, or an error wrapping ErrStorageFailure.
func (s *Service) Book(ctx context.Context, req BookingRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "bookings.book")
	defer span.End()
	defer func() {
		s.metrics.ObserveBooking(bookingOutcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	req, err = s.normalize(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("doctor.id", req.DoctorID.String()),
		attribute.String("patient.id", req.PatientID.String()),
		attribute.String("appointment.start", req.Start.Format(time.RFC3339)),
		attribute.Int("appointment.duration_minutes", req.DurationMinutes),
	)

	if s.cfg.EnforceWorkHours && s.schedule != nil {
		if err := s.checkWorkHours(ctx, req); err != nil {
			return nil, err
		}
	}

	if s.velocity != nil {
		result, verr := s.velocity.CheckBooking(ctx, req.PatientID)
		if verr == nil && !result.Allowed {
			return nil, ErrRateLimited
		}
	}

	appt, err = s.ledger.Book(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.logger.Info("booking conflict", "doctor_id", req.DoctorID, "start", req.Start)
		} else if errors.Is(err, ErrStorageFailure) {
			s.logger.Error("booking failed", "error", err, "doctor_id", req.DoctorID)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID.String()))
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"start", appt.Start,
		"status", appt.Status,
	)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, invalid("id", "is required")
	}
	return s.ledger.Get(ctx, id)
}

func (s *Service) normalize(req BookingRequest) (BookingRequest, error) {
	if req.DoctorID == uuid.Nil {
		return req, invalid("doctorId", "is required")
	}
	if req.PatientID == uuid.Nil {
		return req, invalid("patientId", "is required")
	}
	if req.Start.IsZero() {
		return req, invalid("start", "is required")
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.cfg.DefaultDurationMinutes
	}
	if req.DurationMinutes < s.cfg.MinDurationMinutes || req.DurationMinutes > s.cfg.MaxDurationMinutes {
		return req, invalid("durationMinutes", fmt.Sprintf("must be between %d and %d", s.cfg.MinDurationMinutes, s.cfg.MaxDurationMinutes))
	}
	if req.Start.Before(s.now().Add(s.cfg.MinLeadTime)) {
		return req, invalid("start", "must be in the future")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(req.Reason) > s.cfg.MaxReasonLength {
		return req, invalid("reason", fmt.Sprintf("must be at most %d characters", s.cfg.MaxReasonLength))
	}
	req.Start = req.Start.UTC()
	return req, nil
}

func (s *Service) checkWorkHours(ctx context.Context, req BookingRequest) error {
	loc, err := s.schedule.DoctorLocation(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, schedule.ErrDoctorNotFound) {
			return invalid("doctorId", "does not match a doctor")
		}
		return storageErr("load doctor timezone", err)
	}
	local := req.Start.In(loc)
	windows, err := s.schedule.WindowsForWeekday(ctx, req.DoctorID, local.Weekday())
	if err != nil {
		return storageErr("load work hours", err)
	}
	year, month, day := local.Date()
	end := req.End()
	for _, w := range windows {
		if !req.Start.Before(w.Start.On(year, month, day, loc)) && !end.After(w.End.On(year, month, day, loc)) {
			return nil
		}
	}
	return invalid("start", "is outside the doctor's working hours")
}

func bookingOutcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "booked"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
