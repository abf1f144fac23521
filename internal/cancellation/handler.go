package cancellation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/bookings"
	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Handler serves POST /api/appointments/{id}/cancel.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", "id must be a UUID")
		return
	}
	result, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		var verr *bookings.ValidationError
		switch {
		case errors.As(err, &verr):
			respond.Error(w, http.StatusBadRequest, "validation_error", verr.Error())
		case errors.Is(err, bookings.ErrNotFound):
			respond.Error(w, http.StatusNotFound, "not_found", bookings.ErrNotFound.Error())
		case errors.Is(err, ErrNotCancellable):
			respond.Error(w, http.StatusConflict, "not_cancellable", err.Error())
		default:
			h.logger.Error("cancellation failed", "error", err, "appointment_id", id)
			respond.Error(w, http.StatusInternalServerError, "storage_failure", "could not cancel the appointment, try again later")
		}
		return
	}
	respond.JSON(w, http.StatusOK, result)
}
