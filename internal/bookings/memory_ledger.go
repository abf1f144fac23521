package bookings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/availability"
)

// MemoryLedger is an in-process Ledger. A single mutex makes the overlap check
// and insert atomic, which gives the same one-winner guarantee as PostgresLedger.
type MemoryLedger struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*Appointment
	doctors  map[uuid.UUID]int64
	patients map[uuid.UUID]struct{}
	paid     map[uuid.UUID]int64
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		appts:    make(map[uuid.UUID]*Appointment),
		doctors:  make(map[uuid.UUID]int64),
		patients: make(map[uuid.UUID]struct{}),
		paid:     make(map[uuid.UUID]int64),
		now:      time.Now,
	}
}

// AddDoctor registers a doctor and the fee that decides the initial status.
func (m *MemoryLedger) AddDoctor(id uuid.UUID, feeCents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[id] = feeCents
}

func (m *MemoryLedger) AddPatient(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[id] = struct{}{}
}

// SetPaid records the amount captured for an appointment; Cancel prices
// against it.
func (m *MemoryLedger) SetPaid(id uuid.UUID, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid[id] = cents
}

// SetStatus overrides an appointment's status.
func (m *MemoryLedger) SetStatus(id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	appt.Status = status
	appt.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryLedger) Book(_ context.Context, req BookingRequest) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fee, ok := m.doctors[req.DoctorID]
	if !ok {
		return nil, invalid("doctorId", "does not match a doctor")
	}
	if _, ok := m.patients[req.PatientID]; !ok {
		return nil, invalid("patientId", "does not match a patient")
	}
	start, end := req.Start.UTC(), req.End().UTC()
	for _, a := range m.appts {
		if a.DoctorID == req.DoctorID && a.Status.Holds() && a.Interval().Overlaps(start, end) {
			return nil, ErrSlotConflict
		}
	}

	status := StatusConfirmed
	if fee > 0 {
		status = StatusPending
	}
	now := m.now().UTC()
	appt := &Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Status:          status,
		Reason:          req.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.appts[appt.ID] = appt
	out := *appt
	return &out, nil
}

func (m *MemoryLedger) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *appt
	return &out, nil
}

func (m *MemoryLedger) BookedIntervals(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Interval
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Status.Holds() && a.Interval().Overlaps(from, to) {
			out = append(out, a.Interval())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryLedger) Cancel(_ context.Context, id uuid.UUID, details CancelDetails) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	_ = details.priced(m.paid[id])
	if !appt.Status.Cancellable() {
		out := *appt
		return &out, fmt.Errorf("bookings: cancel from %s: %w", appt.Status, ErrInvalidTransition)
	}
	appt.Status = StatusCancelled
	appt.UpdatedAt = m.now().UTC()
	out := *appt
	return &out, nil
}

func (m *MemoryLedger) ExpirePending(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []Appointment
	for _, a := range m.appts {
		if a.Status == StatusPending && a.CreatedAt.Before(cutoff) {
			a.Status = StatusCancelled
			a.UpdatedAt = m.now().UTC()
			expired = append(expired, *a)
		}
	}
	return expired, nil
}

func (m *MemoryLedger) CompletePast(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.Status == StatusConfirmed && !a.End().After(now) {
			a.Status = StatusCompleted
			a.UpdatedAt = m.now().UTC()
			n++
		}
	}
	return n, nil
}
