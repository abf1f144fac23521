package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/events"
	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

var tracer = otel.Tracer("curalink.internal.payments")

// StateMachine applies provider events to payments and their appointments.
// Each application is one transaction holding a row lock on the payment, so
// duplicate deliveries serialize and only the first one changes anything.
type StateMachine struct {
	db      querier
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewStateMachine(pool *pgxpool.Pool, logger *logging.Logger) *StateMachine {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return newStateMachineWithQuerier(pool, logger)
}

func newStateMachineWithQuerier(q querier, logger *logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.Default()
	}
	return &StateMachine{db: q, logger: logger, now: time.Now}
}

func (m *StateMachine) WithMetrics(bm *metrics.BookingMetrics) *StateMachine {
	m.metrics = bm
	return m
}

// targetStatus maps a provider event type to the payment status it produces.
func targetStatus(eventType string) (Status, bool) {
	switch eventType {
	case EventCaptureCompleted:
		return StatusCompleted, true
	case EventCaptureDenied, EventCaptureDeclined:
		return StatusFailed, true
	case EventCaptureRefunded:
		return StatusRefunded, true
	}
	return "", false
}

// ApplyProviderEvent moves the referenced payment, and its appointment, to the
// status implied by evt. Unknown event types are ignored. A repeated event
// yields ErrAlreadyProcessed, a missing payment ErrUnknownReference, and a
// forbidden move ErrInvalidTransition; the returned Outcome is set in each case.
func (m *StateMachine) ApplyProviderEvent(ctx context.Context, evt ProviderEvent) (outcome *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "payments.apply_provider_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.event_type", evt.Type),
		attribute.String("payment.reference_id", evt.ReferenceID),
	)
	defer func() {
		result := "error"
		if outcome != nil {
			result = string(outcome.Result)
		}
		m.metrics.ObservePaymentEvent(evt.Type, result)
		if err != nil && outcome == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	target, ok := targetStatus(evt.Type)
	if !ok {
		return &Outcome{Result: ResultIgnored}, nil
	}
	ref := strings.TrimSpace(evt.ReferenceID)
	if ref == "" {
		return &Outcome{Result: ResultUnknownReference}, ErrUnknownReference
	}

	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin apply", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lookup := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_order_id = $1 FOR UPDATE`
	if target == StatusRefunded {
		lookup = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_capture_id = $1 FOR UPDATE`
	}
	payment, err := scanPayment(tx.QueryRow(ctx, lookup, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			m.logger.Warn("provider event for unknown payment", "event_type", evt.Type, "reference_id", ref, "event_id", evt.ID)
			return &Outcome{Result: ResultUnknownReference}, ErrUnknownReference
		}
		return nil, storageErr("lock payment", err)
	}

	outcome = &Outcome{
		PaymentID:     payment.ID,
		AppointmentID: payment.AppointmentID,
		PaymentStatus: payment.Status,
	}
	if payment.Status == target {
		outcome.Result = ResultAlreadyProcessed
		return outcome, ErrAlreadyProcessed
	}
	if !canTransition(payment.Status, target) {
		outcome.Result = ResultInvalidTransition
		m.logger.Warn("provider event rejected",
			"event_type", evt.Type,
			"payment_id", payment.ID,
			"from", payment.Status,
			"to", target,
		)
		return outcome, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, payment.Status, target)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, provider_capture_id = COALESCE(NULLIF($3, ''), provider_capture_id), updated_at = now()
		WHERE id = $1
	`, payment.ID, string(target), evt.CaptureID); err != nil {
		return nil, storageErr("update payment", err)
	}
	if evt.CaptureID != "" && target == StatusCompleted {
		payment.ProviderCaptureID = evt.CaptureID
	}

	now := m.now().UTC()
	apptStatus, err := m.applyToAppointment(ctx, tx, payment, target, now)
	if err != nil {
		return nil, err
	}
	if _, err := events.Append(ctx, tx, payment.AppointmentID.String(), paymentEvent(payment, target, evt, now)); err != nil {
		return nil, storageErr("append payment event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit apply", err)
	}

	outcome.Result = ResultApplied
	outcome.PaymentStatus = target
	outcome.AppointmentStatus = apptStatus
	m.logger.Info("payment status changed",
		"payment_id", payment.ID,
		"appointment_id", payment.AppointmentID,
		"event_type", evt.Type,
		"payment_status", target,
		"appointment_status", apptStatus,
	)
	return outcome, nil
}

func (m *StateMachine) applyToAppointment(ctx context.Context, tx pgx.Tx, payment *Payment, target Status, now time.Time) (string, error) {
	var (
		doctorID, patientID uuid.UUID
		start               time.Time
		status              string
	)
	if target == StatusCompleted {
		// A pending appointment is confirmed; the payment is linked regardless.
		err := tx.QueryRow(ctx, `
			UPDATE appointments
			SET payment_id = $2,
			    status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
			    updated_at = now()
			WHERE id = $1
			RETURNING status, patient_id, start_at
		`, payment.AppointmentID, payment.ID).Scan(&status, &patientID, &start)
		if err != nil {
			return "", storageErr("confirm appointment", err)
		}
		if status != string(bookings.StatusConfirmed) {
			m.logger.Warn("payment completed for inactive appointment", "appointment_id", payment.AppointmentID, "status", status)
			return status, nil
		}
		_, err = events.Append(ctx, tx, payment.AppointmentID.String(), events.AppointmentConfirmedV1{
			AppointmentID: payment.AppointmentID.String(),
			PatientID:     patientID.String(),
			PaymentID:     payment.ID.String(),
			Start:         start.UTC(),
			OccurredAt:    now,
		})
		if err != nil {
			return "", storageErr("append confirm event", err)
		}
		return status, nil
	}

	reason := bookings.CancelReasonPaymentFailed
	if target == StatusRefunded {
		reason = bookings.CancelReasonPaymentRefunded
	}
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING doctor_id, patient_id, start_at
	`, payment.AppointmentID).Scan(&doctorID, &patientID, &start)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already cancelled or completed.
		if err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, payment.AppointmentID).Scan(&status); err != nil {
			return "", storageErr("load appointment status", err)
		}
		return status, nil
	}
	if err != nil {
		return "", storageErr("cancel appointment", err)
	}
	_, err = events.Append(ctx, tx, payment.AppointmentID.String(), events.AppointmentCancelledV1{
		AppointmentID: payment.AppointmentID.String(),
		DoctorID:      doctorID.String(),
		PatientID:     patientID.String(),
		Start:         start.UTC(),
		Reason:        reason,
		OccurredAt:    now,
	})
	if err != nil {
		return "", storageErr("append cancel event", err)
	}
	return string(bookings.StatusCancelled), nil
}

func paymentEvent(p *Payment, target Status, evt ProviderEvent, now time.Time) events.Event {
	switch target {
	case StatusCompleted:
		amount := evt.AmountCents
		if amount == 0 {
			amount = p.AmountCents
		}
		return events.PaymentCompletedV1{
			PaymentID:     p.ID.String(),
			AppointmentID: p.AppointmentID.String(),
			Provider:      p.Provider,
			OrderID:       p.ProviderOrderID,
			CaptureID:     p.ProviderCaptureID,
			AmountCents:   amount,
			Currency:      p.Currency,
			OccurredAt:    now,
		}
	case StatusRefunded:
		return events.PaymentRefundedV1{
			PaymentID:     p.ID.String(),
			AppointmentID: p.AppointmentID.String(),
			Provider:      p.Provider,
			CaptureID:     p.ProviderCaptureID,
			RefundCents:   evt.AmountCents,
			OccurredAt:    now,
		}
	default:
		return events.PaymentFailedV1{
			PaymentID:     p.ID.String(),
			AppointmentID: p.AppointmentID.String(),
			Provider:      p.Provider,
			OrderID:       p.ProviderOrderID,
			FailureStatus: evt.Type,
			OccurredAt:    now,
		}
	}
}

// IsAcknowledgeable reports whether err from ApplyProviderEvent should still
// be acknowledged to the provider.
func IsAcknowledgeable(err error) bool {
	return errors.Is(err, ErrUnknownReference) || errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrInvalidTransition)
}
