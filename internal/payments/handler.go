package payments

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Handler serves the create-order and capture-order endpoints.
type Handler struct {
	orders *OrderService
	logger *logging.Logger
}

func NewHandler(orders *OrderService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orders: orders, logger: logger}
}

type createOrderRequest struct {
	AppointmentID string `json:"appointmentId"`
}

type captureOrderRequest struct {
	OrderID string `json:"orderId"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if strings.TrimSpace(body.AppointmentID) == "" {
		respond.Error(w, http.StatusBadRequest, "validation_error", "appointmentId is required")
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(body.AppointmentID))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", "appointmentId must be a UUID")
		return
	}
	result, err := h.orders.CreateOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "appointment_id", id)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

func (h *Handler) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	var body captureOrderRequest
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	orderID := strings.TrimSpace(body.OrderID)
	if orderID == "" {
		respond.Error(w, http.StatusBadRequest, "validation_error", "orderId is required")
		return
	}
	result, err := h.orders.CaptureOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "order_id", orderID)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, key string, value any) {
	var (
		verr   *ValidationError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, bookings.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrPaymentExists):
		respond.Error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, ErrNotConfigured):
		respond.Error(w, http.StatusServiceUnavailable, "payments_unavailable", "payments are not configured")
	case errors.As(err, &apiErr):
		h.logger.Error("payment provider request failed", "error", err, key, value)
		respond.Error(w, http.StatusBadGateway, "provider_error", "payment provider rejected the request")
	default:
		h.logger.Error("payment request failed", "error", err, key, value)
		respond.Error(w, http.StatusInternalServerError, "storage_failure", "could not process the payment, try again later")
	}
}
