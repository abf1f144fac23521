package cancellation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/identity"
	"github.com/bharath3010/curalink-backend/internal/observability/metrics"
	"github.com/bharath3010/curalink-backend/internal/payments"
)

var appointmentStart = time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)

type stubRecords struct {
	payment *payments.Payment
	getErr  error
}

func (s *stubRecords) GetByAppointmentID(_ context.Context, id uuid.UUID) (*payments.Payment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.payment == nil || s.payment.AppointmentID != id {
		return nil, payments.ErrNotFound
	}
	cp := *s.payment
	return &cp, nil
}

type stubProvider struct {
	refunds []int64
	err     error
}

func (p *stubProvider) CreateOrder(context.Context, payments.OrderRequest) (*payments.Order, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) CaptureOrder(context.Context, string) (*payments.Capture, error) {
	return nil, errors.New("not used")
}

func (p *stubProvider) RefundCapture(_ context.Context, captureID string, cents int64, _ string) (*payments.Refund, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.refunds = append(p.refunds, cents)
	return &payments.Refund{ID: "REF-" + captureID, Status: "COMPLETED"}, nil
}

type stubApplier struct {
	events []payments.ProviderEvent
}

func (a *stubApplier) ApplyProviderEvent(_ context.Context, evt payments.ProviderEvent) (*payments.Outcome, error) {
	a.events = append(a.events, evt)
	return &payments.Outcome{Result: payments.ResultApplied, PaymentStatus: payments.StatusRefunded}, nil
}

type cancelFixture struct {
	svc      *Service
	ledger   *bookings.MemoryLedger
	records  *stubRecords
	provider *stubProvider
	applier  *stubApplier
	reg      *prometheus.Registry
	appt     *bookings.Appointment
}

// newCancelFixture books one appointment and, when paid, records a captured
// payment for it. The clock sits notice before the appointment start.
func newCancelFixture(t *testing.T, notice time.Duration, paid bool) cancelFixture {
	t.Helper()
	ledger := bookings.NewMemoryLedger()
	doc, pat := uuid.New(), uuid.New()
	ledger.AddDoctor(doc, 5000)
	ledger.AddPatient(pat)
	appt, err := ledger.Book(context.Background(), bookings.BookingRequest{DoctorID: doc, PatientID: pat, Start: appointmentStart, DurationMinutes: 30})
	require.NoError(t, err)

	records := &stubRecords{}
	if paid {
		require.NoError(t, ledger.SetStatus(appt.ID, bookings.StatusConfirmed))
		ledger.SetPaid(appt.ID, 5000)
		records.payment = &payments.Payment{
			ID:                uuid.New(),
			AppointmentID:     appt.ID,
			AmountCents:       5000,
			Currency:          "USD",
			Provider:          payments.ProviderPayPal,
			ProviderOrderID:   "ORDER-1",
			ProviderCaptureID: "CAP-1",
			Status:            payments.StatusCompleted,
		}
	}
	reg := prometheus.NewRegistry()
	provider := &stubProvider{}
	applier := &stubApplier{}
	svc := NewService(ledger, records, provider, applier, nil).WithMetrics(metrics.NewBookingMetrics(reg))
	svc.now = func() time.Time { return appointmentStart.Add(-notice) }
	return cancelFixture{svc: svc, ledger: ledger, records: records, provider: provider, applier: applier, reg: reg, appt: appt}
}

func TestCancelPaidAppointmentRefundsRemainder(t *testing.T) {
	f := newCancelFixture(t, 30*time.Hour, true)

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, res.Appointment.Status)
	assert.Equal(t, Penalty{Percent: 25, PenaltyCents: 1250, RefundCents: 3750}, res.Penalty)
	assert.Equal(t, RefundIssued, res.Refund)
	assert.Equal(t, "REF-CAP-1", res.RefundID)
	assert.Equal(t, payments.StatusRefunded, res.PaymentStatus)

	assert.Equal(t, []int64{3750}, f.provider.refunds)
	require.Len(t, f.applier.events, 1)
	assert.Equal(t, payments.EventCaptureRefunded, f.applier.events[0].Type)
	assert.Equal(t, "CAP-1", f.applier.events[0].ReferenceID)

	stored, err := f.ledger.Get(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, stored.Status)

	expected := `
# HELP curalink_cancellation_total Appointment cancellations by penalty percent
# TYPE curalink_cancellation_total counter
curalink_cancellation_total{penalty_percent="25"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "curalink_cancellation_total"))
}

func TestCancelLateKeepsFullAmount(t *testing.T) {
	f := newCancelFixture(t, time.Hour, true)

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, Penalty{Percent: 100, PenaltyCents: 5000}, res.Penalty)
	assert.Equal(t, RefundNone, res.Refund)
	assert.Empty(t, f.provider.refunds)
}

func TestCancelUnpaidAppointment(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, false)

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, res.Appointment.Status)
	assert.Nil(t, res.PaymentID)
	assert.Equal(t, RefundNone, res.Refund)
	assert.Zero(t, res.Penalty.PenaltyCents)
}

func TestCancelRefundFailureStillCancels(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, true)
	f.provider.err = errors.New("paypal unavailable")

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundFailed, res.Refund)
	assert.Equal(t, payments.StatusCompleted, res.PaymentStatus)
	assert.Empty(t, f.applier.events)
	assert.Equal(t, bookings.StatusCancelled, res.Appointment.Status)
}

func TestCancelWithoutProviderSkipsRefund(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, true)
	f.svc.provider = nil

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundSkipped, res.Refund)
	assert.Equal(t, Penalty{RefundCents: 5000}, res.Penalty)
}

func TestCancelRejections(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, false)

	_, err := f.svc.Cancel(context.Background(), uuid.Nil)
	var verr *bookings.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, bookings.ErrNotFound)

	_, err = f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.appt.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelPaymentLookupFailureAfterCancel(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, true)
	f.records.getErr = errors.Join(bookings.ErrStorageFailure, errors.New("db down"))

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, res.Appointment.Status)
	assert.Equal(t, int64(5000), res.Penalty.RefundCents)
	assert.Equal(t, RefundFailed, res.Refund)
	assert.Empty(t, f.provider.refunds)
}

// captureDuringCancel completes the payment after the service has loaded the
// appointment but before the ledger cancels it.
type captureDuringCancel struct {
	*bookings.MemoryLedger
	records *stubRecords
	payment *payments.Payment
}

func (c captureDuringCancel) Cancel(ctx context.Context, id uuid.UUID, details bookings.CancelDetails) (*bookings.Appointment, error) {
	c.MemoryLedger.SetPaid(id, c.payment.AmountCents)
	c.records.payment = c.payment
	return c.MemoryLedger.Cancel(ctx, id, details)
}

func TestCancelSeesPaymentCapturedConcurrently(t *testing.T) {
	f := newCancelFixture(t, 30*time.Hour, false)
	captured := &payments.Payment{
		ID:                uuid.New(),
		AppointmentID:     f.appt.ID,
		AmountCents:       5000,
		Currency:          "USD",
		Provider:          payments.ProviderPayPal,
		ProviderOrderID:   "ORDER-RACE",
		ProviderCaptureID: "CAP-RACE",
		Status:            payments.StatusCompleted,
	}
	f.svc.ledger = captureDuringCancel{MemoryLedger: f.ledger, records: f.records, payment: captured}

	res, err := f.svc.Cancel(context.Background(), f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, Penalty{Percent: 25, PenaltyCents: 1250, RefundCents: 3750}, res.Penalty)
	assert.Equal(t, RefundIssued, res.Refund)
	assert.Equal(t, []int64{3750}, f.provider.refunds)
	require.NotNil(t, res.PaymentID)
	assert.Equal(t, captured.ID, *res.PaymentID)
}

func TestCancelHidesOtherPatientsAppointments(t *testing.T) {
	f := newCancelFixture(t, 72*time.Hour, false)

	stranger := identity.WithPrincipal(context.Background(), identity.Principal{ID: uuid.New(), Role: identity.RolePatient})
	_, err := f.svc.Cancel(stranger, f.appt.ID)
	assert.ErrorIs(t, err, bookings.ErrNotFound)

	otherDoctor := identity.WithPrincipal(context.Background(), identity.Principal{ID: uuid.New(), Role: identity.RoleDoctor})
	_, err = f.svc.Cancel(otherDoctor, f.appt.ID)
	assert.ErrorIs(t, err, bookings.ErrNotFound)

	owner := identity.WithPrincipal(context.Background(), identity.Principal{ID: f.appt.PatientID, Role: identity.RolePatient})
	res, err := f.svc.Cancel(owner, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, res.Appointment.Status)
}
