package bookings

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/internal/identity"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Handler exposes booking over HTTP.
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

type bookRequest struct {
	DoctorID        string `json:"doctorId"`
	PatientID       string `json:"patientId,omitempty"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// CreateAppointment handles POST /api/appointments.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var body bookRequest
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	req, err := body.toRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	appt, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, appt)
}

// GetAppointment handles GET /api/appointments/{id}.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", "id must be a UUID")
		return
	}
	appt, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if p, ok := identity.PrincipalFromContext(r.Context()); ok && p.Role == identity.RolePatient && p.ID != appt.PatientID {
		respond.Error(w, http.StatusNotFound, "not_found", ErrNotFound.Error())
		return
	}
	respond.JSON(w, http.StatusOK, appt)
}

func (b bookRequest) toRequest(r *http.Request) (BookingRequest, error) {
	doctorID, err := uuid.Parse(strings.TrimSpace(b.DoctorID))
	if err != nil {
		return BookingRequest{}, invalid("doctorId", "must be a UUID")
	}
	var patientID uuid.UUID
	if raw := strings.TrimSpace(b.PatientID); raw != "" {
		if patientID, err = uuid.Parse(raw); err != nil {
			return BookingRequest{}, invalid("patientId", "must be a UUID")
		}
	}
	// A signed-in patient always books as themselves.
	if id, ok := identity.PatientID(r.Context()); ok {
		if patientID != uuid.Nil && patientID != id {
			return BookingRequest{}, ErrForbidden
		}
		patientID = id
	}
	if strings.TrimSpace(b.Start) == "" {
		return BookingRequest{}, invalid("start", "is required")
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(b.Start))
	if err != nil {
		return BookingRequest{}, invalid("start", "must be an RFC 3339 timestamp")
	}
	return BookingRequest{
		DoctorID:        doctorID,
		PatientID:       patientID,
		Start:           start,
		DurationMinutes: b.DurationMinutes,
		Reason:          b.Reason,
	}, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, ErrSlotConflict):
		respond.Error(w, http.StatusConflict, "slot_conflict", "slot already booked, pick another slot")
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, ErrForbidden):
		respond.Error(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		h.logger.Error("booking request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "storage_failure", "could not save the appointment, try again later")
	}
}
