package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

type appointmentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*bookings.Appointment, error)
}

type paymentStore interface {
	Create(ctx context.Context, p *Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	DoctorFee(ctx context.Context, doctorID uuid.UUID) (int64, error)
}

type eventApplier interface {
	ApplyProviderEvent(ctx context.Context, evt ProviderEvent) (*Outcome, error)
}

// OrderConfig holds the money settings for new orders.
type OrderConfig struct {
	Currency       string
	PlatformFeeBPS int
}

// OrderService creates provider orders for pending appointments and captures them.
type OrderService struct {
	appointments appointmentReader
	payments     paymentStore
	provider     Provider
	machine      eventApplier
	cfg          OrderConfig
	logger       *logging.Logger
}

func NewOrderService(appointments appointmentReader, payments paymentStore, provider Provider, machine eventApplier, cfg OrderConfig, logger *logging.Logger) *OrderService {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &OrderService{
		appointments: appointments,
		payments:     payments,
		provider:     provider,
		machine:      machine,
		cfg:          cfg,
		logger:       logger,
	}
}

// CreateOrderResult is returned to the client so it can send the payer to PayPal.
type CreateOrderResult struct {
	OrderID          string    `json:"orderId"`
	PaymentID        uuid.UUID `json:"paymentId"`
	AmountCents      int64     `json:"amountCents"`
	PlatformFeeCents int64     `json:"platformFeeCents"`
	Currency         string    `json:"currency"`
	ApprovalURL      string    `json:"approvalUrl,omitempty"`
	Links            []Link    `json:"links,omitempty"`
}

// CreateOrder opens a provider order for the doctor's fee and records a
// pending payment. Calling it again for the same appointment returns the
// existing pending order.
func (s *OrderService) CreateOrder(ctx context.Context, appointmentID uuid.UUID) (*CreateOrderResult, error) {
	if appointmentID == uuid.Nil {
		return nil, &ValidationError{Field: "appointmentId", Message: "is required"}
	}
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	appt, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != bookings.StatusPending {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}

	existing, err := s.payments.GetByAppointmentID(ctx, appointmentID)
	switch {
	case err == nil && existing.Status == StatusPending:
		return &CreateOrderResult{
			OrderID:          existing.ProviderOrderID,
			PaymentID:        existing.ID,
			AmountCents:      existing.AmountCents,
			PlatformFeeCents: existing.PlatformFeeCents,
			Currency:         existing.Currency,
		}, nil
	case err == nil:
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidTransition, existing.Status)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	amount, err := s.payments.DoctorFee(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "appointmentId", Message: "doctor charges no fee"}
	}

	order, err := s.provider.CreateOrder(ctx, OrderRequest{
		ReferenceID: appointmentID.String(),
		AmountCents: amount,
		Currency:    s.cfg.Currency,
		Description: "CuraLink Appointment - " + appointmentID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("payments: create provider order: %w", err)
	}

	payment := &Payment{
		AppointmentID:    appointmentID,
		AmountCents:      amount,
		PlatformFeeCents: PlatformFee(amount, s.cfg.PlatformFeeBPS),
		Currency:         s.cfg.Currency,
		Provider:         ProviderPayPal,
		ProviderOrderID:  order.ID,
		Status:           StatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.Info("payment order created",
		"appointment_id", appointmentID,
		"payment_id", payment.ID,
		"order_id", order.ID,
		"amount_cents", amount,
	)
	return &CreateOrderResult{
		OrderID:          order.ID,
		PaymentID:        payment.ID,
		AmountCents:      amount,
		PlatformFeeCents: payment.PlatformFeeCents,
		Currency:         payment.Currency,
		ApprovalURL:      order.ApprovalURL(),
		Links:            order.Links,
	}, nil
}

// CaptureResult reports the provider capture and the resulting statuses.
type CaptureResult struct {
	OrderID           string `json:"orderId"`
	CaptureID         string `json:"captureId"`
	Status            string `json:"status"`
	AmountCents       int64  `json:"amountCents"`
	PaymentStatus     Status `json:"paymentStatus"`
	AppointmentStatus string `json:"appointmentStatus,omitempty"`
}

// CaptureOrder captures an approved order and routes the result through the
// state machine, so it stays idempotent with the webhook.
func (s *OrderService) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "orderId", Message: "is required"}
	}
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	payment, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == StatusCompleted {
		return &CaptureResult{
			OrderID:       orderID,
			CaptureID:     payment.ProviderCaptureID,
			Status:        "COMPLETED",
			AmountCents:   payment.AmountCents,
			PaymentStatus: payment.Status,
		}, nil
	}

	capture, err := s.provider.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("payments: capture provider order: %w", err)
	}

	evt := ProviderEvent{
		ID:          "capture:" + orderID,
		Type:        EventCaptureCompleted,
		ReferenceID: orderID,
		CaptureID:   capture.CaptureID,
		AmountCents: capture.AmountCents,
	}
	switch capture.Status {
	case "COMPLETED":
	case "DECLINED", "DENIED", "FAILED":
		evt.Type = EventCaptureDeclined
	default:
		// PENDING captures are settled later by webhook.
		return &CaptureResult{OrderID: orderID, CaptureID: capture.CaptureID, Status: capture.Status, AmountCents: capture.AmountCents, PaymentStatus: payment.Status}, nil
	}

	outcome, err := s.machine.ApplyProviderEvent(ctx, evt)
	if err != nil && !errors.Is(err, ErrAlreadyProcessed) {
		return nil, err
	}
	return &CaptureResult{
		OrderID:           orderID,
		CaptureID:         capture.CaptureID,
		Status:            capture.Status,
		AmountCents:       capture.AmountCents,
		PaymentStatus:     outcome.PaymentStatus,
		AppointmentStatus: outcome.AppointmentStatus,
	}, nil
}
