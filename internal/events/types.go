package events

import "time"

const (
	TypeAppointmentBooked    = "appointment_booked.v1"
	TypeAppointmentConfirmed = "appointment_confirmed.v1"
	TypeAppointmentCancelled = "appointment_cancelled.v1"
	TypePaymentCompleted     = "payment_completed.v1"
	TypePaymentFailed        = "payment_failed.v1"
	TypePaymentRefunded      = "payment_refunded.v1"
)

type AppointmentBookedV1 struct {
	AppointmentID   string    `json:"appointment_id"`
	DoctorID        string    `json:"doctor_id"`
	PatientID       string    `json:"patient_id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (AppointmentBookedV1) EventType() string { return TypeAppointmentBooked }

type AppointmentConfirmedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	PaymentID     string    `json:"payment_id"`
	Start         time.Time `json:"start"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (AppointmentConfirmedV1) EventType() string { return TypeAppointmentConfirmed }

type AppointmentCancelledV1 struct {
	AppointmentID  string    `json:"appointment_id"`
	DoctorID       string    `json:"doctor_id"`
	PatientID      string    `json:"patient_id"`
	Start          time.Time `json:"start"`
	Reason         string    `json:"reason"`
	PenaltyPercent int       `json:"penalty_percent,omitempty"`
	PenaltyCents   int64     `json:"penalty_cents,omitempty"`
	RefundCents    int64     `json:"refund_cents,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (AppointmentCancelledV1) EventType() string { return TypeAppointmentCancelled }

type PaymentCompletedV1 struct {
	PaymentID     string    `json:"payment_id"`
	AppointmentID string    `json:"appointment_id"`
	Provider      string    `json:"provider"`
	OrderID       string    `json:"order_id"`
	CaptureID     string    `json:"capture_id,omitempty"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (PaymentCompletedV1) EventType() string { return TypePaymentCompleted }

type PaymentFailedV1 struct {
	PaymentID     string    `json:"payment_id"`
	AppointmentID string    `json:"appointment_id"`
	Provider      string    `json:"provider"`
	OrderID       string    `json:"order_id"`
	FailureStatus string    `json:"failure_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (PaymentFailedV1) EventType() string { return TypePaymentFailed }

type PaymentRefundedV1 struct {
	PaymentID     string    `json:"payment_id"`
	AppointmentID string    `json:"appointment_id"`
	Provider      string    `json:"provider"`
	CaptureID     string    `json:"capture_id"`
	RefundCents   int64     `json:"refund_cents,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (PaymentRefundedV1) EventType() string { return TypePaymentRefunded }
