package availability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Handler serves GET /api/doctors/{doctorID}/availability.
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

type slotsResponse struct {
	Available bool   `json:"available"`
	DoctorID  string `json:"doctorId"`
	Date      string `json:"date"`
	Timezone  string `json:"timezone"`
	Slots     []Slot `json:"slots"`
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "validation_error", "doctorID must be a UUID")
		return
	}
	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 {
			respond.Error(w, http.StatusBadRequest, "validation_error", "duration must be a positive integer")
			return
		}
	}

	result, err := h.service.Query(r.Context(), doctorID, r.URL.Query().Get("date"), duration)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			respond.Error(w, http.StatusBadRequest, "validation_error", verr.Error())
		case errors.Is(err, schedule.ErrDoctorNotFound):
			respond.Error(w, http.StatusNotFound, "not_found", "doctor not found")
		default:
			h.logger.Error("availability query failed", "error", err, "doctor_id", doctorID)
			respond.Error(w, http.StatusInternalServerError, "storage_failure", "could not load availability, try again later")
		}
		return
	}

	respond.JSON(w, http.StatusOK, slotsResponse{
		Available: len(result.Slots) > 0,
		DoctorID:  result.DoctorID.String(),
		Date:      result.Date,
		Timezone:  result.Timezone,
		Slots:     result.Slots,
	})
}
