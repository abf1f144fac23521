package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/availability"
	"github.com/bharath3010/curalink-backend/internal/events"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Holds reports whether an appointment in this status occupies its slot.
func (s Status) Holds() bool {
	return s != StatusCancelled
}

// Cancellable reports whether the appointment may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Appointment is a reservation of a doctor's time for a patient.
type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctorId"`
	PatientID       uuid.UUID  `json:"patientId"`
	Start           time.Time  `json:"start"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          Status     `json:"status"`
	PaymentID       *uuid.UUID `json:"paymentId,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration())
}

func (a Appointment) Interval() availability.Interval {
	return availability.Interval{Start: a.Start, End: a.End()}
}

// BookingRequest asks for one appointment.
type BookingRequest struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Start           time.Time
	DurationMinutes int
	Reason          string
}

func (r BookingRequest) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// Cancellation reasons carried on appointment_cancelled events.
const (
	CancelReasonPatient         = "patient_request"
	CancelReasonExpired         = "payment_timeout"
	CancelReasonPaymentFailed   = "payment_failed"
	CancelReasonPaymentRefunded = "payment_refunded"
)

// CancelDetails describes why and at what cost an appointment was cancelled.
type CancelDetails struct {
	Reason         string
	PenaltyPercent int
	PenaltyCents   int64
	RefundCents    int64
	// Price, when set, replaces the penalty fields. It receives the captured
	// amount read while the payment row is locked, so a capture racing the
	// cancellation is either seen here or lands on a cancelled appointment.
	Price func(paidCents int64) (percent int, penaltyCents, refundCents int64)
}

func (d CancelDetails) priced(paidCents int64) CancelDetails {
	if d.Price != nil {
		d.PenaltyPercent, d.PenaltyCents, d.RefundCents = d.Price(paidCents)
	}
	return d
}

func (d CancelDetails) event(appt *Appointment, now time.Time) events.AppointmentCancelledV1 {
	reason := d.Reason
	if reason == "" {
		reason = CancelReasonPatient
	}
	return events.AppointmentCancelledV1{
		AppointmentID:  appt.ID.String(),
		DoctorID:       appt.DoctorID.String(),
		PatientID:      appt.PatientID.String(),
		Start:          appt.Start,
		Reason:         reason,
		PenaltyPercent: d.PenaltyPercent,
		PenaltyCents:   d.PenaltyCents,
		RefundCents:    d.RefundCents,
		OccurredAt:     now.UTC(),
	}
}
