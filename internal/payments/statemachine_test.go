package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
)

var paymentRowColumns = []string{"id", "appointment_id", "amount_cents", "platform_fee_cents", "currency", "provider", "provider_order_id", "provider_capture_id", "status", "penalty_cents", "refund_cents", "created_at", "updated_at"}

type paymentFixture struct {
	id, appointmentID uuid.UUID
	orderID           string
	captureID         *string
	status            Status
}

func (f paymentFixture) rows() *pgxmock.Rows {
	created := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(paymentRowColumns).AddRow(
		f.id, f.appointmentID, int64(5000), int64(250), "USD", "paypal", f.orderID, f.captureID, string(f.status), nil, nil, created, created,
	)
}

func newFixture(status Status) paymentFixture {
	return paymentFixture{id: uuid.New(), appointmentID: uuid.New(), orderID: "ORDER-1", status: status}
}

func newMockMachine(t *testing.T) (*StateMachine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	m := newStateMachineWithQuerier(mock, nil).WithMetrics(metrics.NewBookingMetrics(prometheus.NewRegistry()))
	m.now = func() time.Time { return time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC) }
	return m, mock
}

func TestApplyCaptureCompletedConfirmsAppointment(t *testing.T) {
	m, mock := newMockMachine(t)
	f := newFixture(StatusPending)
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_order_id").WithArgs("ORDER-1").WillReturnRows(f.rows())
	mock.ExpectExec("UPDATE payments").WithArgs(f.id, "completed", "CAP-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").WithArgs(f.appointmentID, f.id).
		WillReturnRows(pgxmock.NewRows([]string{"status", "patient_id", "start_at"}).AddRow("confirmed", uuid.New(), start))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), f.appointmentID.String(), "appointment_confirmed.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), f.appointmentID.String(), "payment_completed.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{
		Type:        EventCaptureCompleted,
		ReferenceID: "ORDER-1",
		CaptureID:   "CAP-1",
		AmountCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, outcome.Result)
	assert.Equal(t, StatusCompleted, outcome.PaymentStatus)
	assert.Equal(t, string(bookings.StatusConfirmed), outcome.AppointmentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDuplicateCompletionIsAlreadyProcessed(t *testing.T) {
	m, mock := newMockMachine(t)
	f := newFixture(StatusCompleted)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_order_id").WithArgs("ORDER-1").WillReturnRows(f.rows())
	mock.ExpectRollback()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureCompleted, ReferenceID: "ORDER-1", CaptureID: "CAP-1"})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.True(t, IsAcknowledgeable(err))
	require.NotNil(t, outcome)
	assert.Equal(t, ResultAlreadyProcessed, outcome.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUnknownReference(t *testing.T) {
	m, mock := newMockMachine(t)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_order_id").WithArgs("ORDER-404").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureDenied, ReferenceID: "ORDER-404"})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.Equal(t, ResultUnknownReference, outcome.Result)
	require.NoError(t, mock.ExpectationsWereMet())

	outcome, err = m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureDenied})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.Equal(t, ResultUnknownReference, outcome.Result)
}

func TestApplyRefundOfPendingPaymentIsInvalid(t *testing.T) {
	m, mock := newMockMachine(t)
	f := newFixture(StatusPending)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_capture_id").WithArgs("CAP-9").WillReturnRows(f.rows())
	mock.ExpectRollback()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureRefunded, ReferenceID: "CAP-9"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ResultInvalidTransition, outcome.Result)
	assert.Equal(t, StatusPending, outcome.PaymentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRefundCancelsAppointmentByCaptureID(t *testing.T) {
	m, mock := newMockMachine(t)
	capture := "CAP-1"
	f := newFixture(StatusCompleted)
	f.captureID = &capture

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_capture_id").WithArgs("CAP-1").WillReturnRows(f.rows())
	mock.ExpectExec("UPDATE payments").WithArgs(f.id, "refunded", "CAP-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").WithArgs(f.appointmentID).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "patient_id", "start_at"}).AddRow(uuid.New(), uuid.New(), time.Now()))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), f.appointmentID.String(), "appointment_cancelled.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), f.appointmentID.String(), "payment_refunded.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureRefunded, ReferenceID: "CAP-1", CaptureID: "CAP-1", AmountCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, outcome.PaymentStatus)
	assert.Equal(t, "cancelled", outcome.AppointmentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDeclineOfAlreadyCancelledAppointment(t *testing.T) {
	m, mock := newMockMachine(t)
	f := newFixture(StatusPending)

	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery("FROM payments WHERE provider_order_id").WithArgs("ORDER-1").WillReturnRows(f.rows())
	mock.ExpectExec("UPDATE payments").WithArgs(f.id, "failed", "").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("UPDATE appointments").WithArgs(f.appointmentID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM appointments").WithArgs(f.appointmentID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), f.appointmentID.String(), "payment_failed.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureDeclined, ReferenceID: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.PaymentStatus)
	assert.Equal(t, "cancelled", outcome.AppointmentStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyIgnoresUnknownEventTypes(t *testing.T) {
	m, mock := newMockMachine(t)
	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: "CHECKOUT.ORDER.APPROVED", ReferenceID: "ORDER-1"})
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, outcome.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStorageFailureIsNotAcknowledgeable(t *testing.T) {
	m, mock := newMockMachine(t)
	mock.ExpectBeginTx(pgx.TxOptions{}).WillReturnError(errors.New("pool exhausted"))

	outcome, err := m.ApplyProviderEvent(context.Background(), ProviderEvent{Type: EventCaptureCompleted, ReferenceID: "ORDER-1"})
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, bookings.ErrStorageFailure)
	assert.False(t, IsAcknowledgeable(err))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusRefunded, true},
		{StatusPending, StatusRefunded, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRefunded, StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPlatformFee(t *testing.T) {
	assert.Equal(t, int64(250), PlatformFee(5000, 500))
	assert.Equal(t, int64(1), PlatformFee(10, 500))
	assert.Equal(t, int64(0), PlatformFee(9, 500))
	assert.Equal(t, int64(0), PlatformFee(5000, 0))
}
