package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/identity"
	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/internal/payments"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

var tracer = otel.Tracer("curalink.internal.cancellation")

// ErrNotCancellable is returned for completed or already cancelled appointments.
var ErrNotCancellable = errors.New("cancellation: appointment cannot be cancelled")

type appointmentLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*bookings.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, details bookings.CancelDetails) (*bookings.Appointment, error)
}

type paymentRecords interface {
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*payments.Payment, error)
}

type eventApplier interface {
	ApplyProviderEvent(ctx context.Context, evt payments.ProviderEvent) (*payments.Outcome, error)
}

// RefundStatus reports what happened to the refundable part of a payment.
type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundIssued  RefundStatus = "issued"
	RefundFailed  RefundStatus = "failed"
	RefundSkipped RefundStatus = "skipped"
)

// Result is returned to the caller of a cancellation.
type Result struct {
	Appointment   *bookings.Appointment `json:"appointment"`
	Penalty       Penalty               `json:"penalty"`
	PaymentID     *uuid.UUID            `json:"paymentId,omitempty"`
	PaymentStatus payments.Status       `json:"paymentStatus,omitempty"`
	Refund        RefundStatus          `json:"refundStatus"`
	RefundID      string                `json:"refundId,omitempty"`
}

// Service cancels appointments and settles the payment behind them.
type Service struct {
	ledger   appointmentLedger
	payments paymentRecords
	provider payments.Provider
	machine  eventApplier
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewService(ledger appointmentLedger, records paymentRecords, provider payments.Provider, machine eventApplier, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		ledger:   ledger,
		payments: records,
		provider: provider,
		machine:  machine,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Cancel cancels the appointment, records the penalty on a captured payment
// and refunds the remainder. The cancellation stands even if the refund call
// fails; the result then reports RefundFailed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Result, error) {
	ctx, span := tracer.Start(ctx, "cancellation.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	if id == uuid.Nil {
		return nil, &bookings.ValidationError{Field: "id", Message: "is required"}
	}
	appt, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(ctx, appt) {
		return nil, bookings.ErrNotFound
	}
	if !appt.Status.Cancellable() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrNotCancellable, appt.Status)
	}

	// The ledger prices the cancellation under the payment row lock and
	// stores the penalty on the payment in the same transaction.
	now := s.now().UTC()
	var penalty Penalty
	cancelled, err := s.ledger.Cancel(ctx, id, bookings.CancelDetails{
		Reason: bookings.CancelReasonPatient,
		Price: func(paidCents int64) (int, int64, int64) {
			penalty = ComputePenalty(appt.Start, paidCents, now)
			return penalty.Percent, penalty.PenaltyCents, penalty.RefundCents
		},
	})
	if err != nil {
		if errors.Is(err, bookings.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %w", ErrNotCancellable, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("cancellation.penalty_percent", penalty.Percent))
	s.metrics.ObserveCancellation(penalty.Percent)

	result := &Result{Appointment: cancelled, Penalty: penalty, Refund: RefundNone}
	payment, err := s.payments.GetByAppointmentID(ctx, id)
	switch {
	case errors.Is(err, payments.ErrNotFound):
		payment = nil
	case err != nil:
		// The cancellation has committed; only the refund is left undone.
		s.logger.Error("load payment after cancellation failed", "error", err, "appointment_id", id)
		if penalty.RefundCents > 0 {
			result.Refund = RefundFailed
		}
		return result, nil
	}
	if payment == nil {
		s.logger.Info("appointment cancelled", "appointment_id", id, "penalty_percent", penalty.Percent)
		return result, nil
	}
	result.PaymentID = &payment.ID
	result.PaymentStatus = payment.Status

	if penalty.RefundCents > 0 {
		s.refund(ctx, payment, penalty.RefundCents, result)
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", id,
		"payment_id", payment.ID,
		"penalty_percent", penalty.Percent,
		"penalty_cents", penalty.PenaltyCents,
		"refund_cents", penalty.RefundCents,
		"refund_status", result.Refund,
	)
	return result, nil
}

func (s *Service) refund(ctx context.Context, payment *payments.Payment, cents int64, result *Result) {
	if s.provider == nil || payment.ProviderCaptureID == "" {
		s.logger.Warn("refund skipped", "payment_id", payment.ID, "refund_cents", cents, "has_capture", payment.ProviderCaptureID != "")
		result.Refund = RefundSkipped
		return
	}
	refund, err := s.provider.RefundCapture(ctx, payment.ProviderCaptureID, cents, payment.Currency)
	if err != nil {
		s.logger.Error("provider refund failed", "error", err, "payment_id", payment.ID, "capture_id", payment.ProviderCaptureID)
		result.Refund = RefundFailed
		return
	}
	result.Refund = RefundIssued
	result.RefundID = refund.ID

	if s.machine == nil {
		return
	}
	outcome, err := s.machine.ApplyProviderEvent(ctx, payments.ProviderEvent{
		ID:          "refund:" + refund.ID,
		Type:        payments.EventCaptureRefunded,
		ReferenceID: payment.ProviderCaptureID,
		CaptureID:   payment.ProviderCaptureID,
		AmountCents: cents,
	})
	switch {
	case err == nil, errors.Is(err, payments.ErrAlreadyProcessed):
		if outcome != nil {
			result.PaymentStatus = outcome.PaymentStatus
		}
	default:
		// The refund webhook settles the payment later.
		s.logger.Warn("apply refund to payment failed", "error", err, "payment_id", payment.ID)
	}
}

// visibleTo hides appointments from patients and doctors who are not party
// to them. Requests without a principal are trusted.
func visibleTo(ctx context.Context, appt *bookings.Appointment) bool {
	p, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		return true
	}
	switch p.Role {
	case identity.RolePatient:
		return p.ID == appt.PatientID
	case identity.RoleDoctor:
		return p.ID == appt.DoctorID
	}
	return true
}
