package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bharath3010/curalink-backend/internal/events"
)

type mockEmailSender struct {
	mu     sync.Mutex
	sent   []EmailMessage
	failOn string
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type mockContacts struct {
	patients map[uuid.UUID]Contact
	doctors  map[uuid.UUID]Contact
	err      error
}

func (m *mockContacts) Patient(_ context.Context, id uuid.UUID) (Contact, error) {
	if m.err != nil {
		return Contact{}, m.err
	}
	if c, ok := m.patients[id]; ok {
		return c, nil
	}
	return Contact{}, ErrContactNotFound
}

func (m *mockContacts) Doctor(_ context.Context, id uuid.UUID) (Contact, error) {
	if m.err != nil {
		return Contact{}, m.err
	}
	if c, ok := m.doctors[id]; ok {
		return c, nil
	}
	return Contact{}, ErrContactNotFound
}

func outboxEntry(t *testing.T, evt events.Event, aggregateID string) events.OutboxEntry {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	env := events.Envelope{ID: uuid.New(), Type: evt.EventType(), AggregateID: aggregateID, OccurredAt: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	return events.OutboxEntry{ID: env.ID, AggregateID: aggregateID, Type: env.Type, Payload: payload}
}

type notifyFixture struct {
	svc     *Service
	email   *mockEmailSender
	doctor  uuid.UUID
	patient uuid.UUID
	start   time.Time
}

func newNotifyFixture() notifyFixture {
	doc, pat := uuid.New(), uuid.New()
	contacts := &mockContacts{
		patients: map[uuid.UUID]Contact{pat: {Name: "Asha Rao", Email: "asha@example.com"}},
		doctors:  map[uuid.UUID]Contact{doc: {Name: "Dr. Mehta", Email: "mehta@clinic.test", Timezone: "Asia/Kolkata"}},
	}
	email := &mockEmailSender{}
	return notifyFixture{
		svc:     NewService(email, contacts, nil),
		email:   email,
		doctor:  doc,
		patient: pat,
		start:   time.Date(2030, 6, 3, 4, 30, 0, 0, time.UTC),
	}
}

func TestHandleBookedEmailsPatientAndDoctor(t *testing.T) {
	f := newNotifyFixture()
	entry := outboxEntry(t, events.AppointmentBookedV1{
		AppointmentID:   uuid.NewString(),
		DoctorID:        f.doctor.String(),
		PatientID:       f.patient.String(),
		Start:           f.start,
		DurationMinutes: 30,
		Status:          "pending",
	}, "appt-1")

	require.NoError(t, f.svc.Handle(context.Background(), entry))
	require.Len(t, f.email.sent, 2)

	toPatient := f.email.sent[0]
	assert.Equal(t, "asha@example.com", toPatient.To)
	assert.Equal(t, "Appointment requested", toPatient.Subject)
	assert.Contains(t, toPatient.Body, "Dr. Mehta")
	assert.Contains(t, toPatient.Body, "10:00 AM IST")
	assert.Contains(t, toPatient.Body, "Complete the payment")

	toDoctor := f.email.sent[1]
	assert.Equal(t, "mehta@clinic.test", toDoctor.To)
	assert.Contains(t, toDoctor.Body, "Asha Rao")
}

func TestHandleCancelledIncludesPenalty(t *testing.T) {
	f := newNotifyFixture()
	entry := outboxEntry(t, events.AppointmentCancelledV1{
		AppointmentID:  uuid.NewString(),
		DoctorID:       f.doctor.String(),
		PatientID:      f.patient.String(),
		Start:          f.start,
		Reason:         "patient_request",
		PenaltyPercent: 25,
		PenaltyCents:   1250,
		RefundCents:    3750,
	}, "appt-1")

	require.NoError(t, f.svc.Handle(context.Background(), entry))
	require.Len(t, f.email.sent, 2)
	assert.Contains(t, f.email.sent[0].Body, "25% cancellation fee of $12.50")
	assert.Contains(t, f.email.sent[0].Body, "$37.50 will be refunded")
	assert.Contains(t, f.email.sent[1].Body, "requested by the patient")
}

func TestHandleConfirmedAndIgnoredTypes(t *testing.T) {
	f := newNotifyFixture()

	require.NoError(t, f.svc.Handle(context.Background(), outboxEntry(t, events.AppointmentConfirmedV1{
		AppointmentID: uuid.NewString(),
		PatientID:     f.patient.String(),
		Start:         f.start,
	}, "appt-1")))
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "Appointment confirmed", f.email.sent[0].Subject)

	require.NoError(t, f.svc.Handle(context.Background(), outboxEntry(t, events.PaymentCompletedV1{PaymentID: "p"}, "appt-1")))
	assert.Len(t, f.email.sent, 1)
}

func TestHandleSkipsMissingContactsAndBadPayloads(t *testing.T) {
	f := newNotifyFixture()

	entry := outboxEntry(t, events.AppointmentBookedV1{
		DoctorID:  f.doctor.String(),
		PatientID: uuid.NewString(),
		Start:     f.start,
	}, "appt-1")
	require.NoError(t, f.svc.Handle(context.Background(), entry))
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "mehta@clinic.test", f.email.sent[0].To)

	bad := events.OutboxEntry{ID: uuid.New(), Payload: []byte(`{nope`)}
	assert.NoError(t, f.svc.Handle(context.Background(), bad))
}

func TestHandleReturnsSendAndLookupFailures(t *testing.T) {
	f := newNotifyFixture()
	f.email.failOn = "asha@example.com"
	entry := outboxEntry(t, events.AppointmentConfirmedV1{PatientID: f.patient.String(), Start: f.start}, "appt-1")
	assert.Error(t, f.svc.Handle(context.Background(), entry))

	broken := NewService(&mockEmailSender{}, &mockContacts{err: errors.New("db down")}, nil)
	assert.Error(t, broken.Handle(context.Background(), entry))

	disabled := NewService(nil, nil, nil)
	assert.NoError(t, disabled.Handle(context.Background(), entry))
}

func TestPostgresContacts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := &PostgresContacts{db: mock}
	pat, doc := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT name, email FROM patients").WithArgs(pat).
		WillReturnRows(pgxmock.NewRows([]string{"name", "email"}).AddRow("Asha Rao", "asha@example.com"))
	c, err := store.Patient(context.Background(), pat)
	require.NoError(t, err)
	assert.Equal(t, Contact{Name: "Asha Rao", Email: "asha@example.com"}, c)

	mock.ExpectQuery("SELECT name, email, timezone FROM doctors").WithArgs(doc).WillReturnError(pgx.ErrNoRows)
	_, err = store.Doctor(context.Background(), doc)
	assert.ErrorIs(t, err, ErrContactNotFound)

	mock.ExpectQuery("SELECT name, email FROM patients").WillReturnError(errors.New("conn reset"))
	_, err = store.Patient(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrContactNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
