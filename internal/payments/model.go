package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// canTransition lists the only permitted payment moves.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	}
	return false
}

const ProviderPayPal = "paypal"

// PayPal webhook event types the state machine understands.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureDeclined  = "PAYMENT.CAPTURE.DECLINED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

var (
	// ErrUnknownReference means no payment matches the event's order or capture id.
	ErrUnknownReference = errors.New("payments: unknown provider reference")
	// ErrAlreadyProcessed means the payment is already in the event's target status.
	ErrAlreadyProcessed = errors.New("payments: event already applied")
	// ErrInvalidTransition means the payment's status forbids the event.
	ErrInvalidTransition = errors.New("payments: invalid status transition")
	ErrNotFound          = errors.New("payments: payment not found")
	// ErrPaymentExists means the appointment already has a payment row.
	ErrPaymentExists = errors.New("payments: appointment already has a payment")
	// ErrNotConfigured means no provider credentials are set.
	ErrNotConfigured = errors.New("payments: provider not configured")
)

// ValidationError rejects a malformed payment request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Payment is the money side of one appointment.
type Payment struct {
	ID                uuid.UUID `json:"id"`
	AppointmentID     uuid.UUID `json:"appointmentId"`
	AmountCents       int64     `json:"amountCents"`
	PlatformFeeCents  int64     `json:"platformFeeCents"`
	Currency          string    `json:"currency"`
	Provider          string    `json:"provider"`
	ProviderOrderID   string    `json:"providerOrderId"`
	ProviderCaptureID string    `json:"providerCaptureId,omitempty"`
	Status            Status    `json:"status"`
	PenaltyCents      *int64    `json:"penaltyCents,omitempty"`
	RefundCents       *int64    `json:"refundCents,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// ProviderEvent is a provider notification reduced to what the state machine needs.
// ReferenceID is the order id for capture completed/denied/declined and the
// capture id for refunds.
type ProviderEvent struct {
	ID          string
	Type        string
	ReferenceID string
	CaptureID   string
	AmountCents int64
}

// Result classifies what ApplyProviderEvent did.
type Result string

const (
	ResultApplied           Result = "applied"
	ResultAlreadyProcessed  Result = "already_processed"
	ResultUnknownReference  Result = "unknown_reference"
	ResultInvalidTransition Result = "invalid_transition"
	ResultIgnored           Result = "ignored"
)

// Outcome reports the statuses after an event was applied.
type Outcome struct {
	Result            Result
	PaymentID         uuid.UUID
	AppointmentID     uuid.UUID
	PaymentStatus     Status
	AppointmentStatus string
}

// PlatformFee returns amount*bps/10000 rounded half up.
func PlatformFee(amountCents int64, bps int) int64 {
	if amountCents <= 0 || bps <= 0 {
		return 0
	}
	return (amountCents*int64(bps) + 5000) / 10000
}
