package handler

import (
	"context"
	"net/http"

	"github.com/clinicaec/hospital-backend/internal/scheduling/repository"
	"github.com/clinicaec/hospital-backend/internal/scheduling/service"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AppointmentService is the scheduling behaviour the handlers expose
type AppointmentService interface {
	CreateAppointment(ctx context.Context, in service.CreateAppointmentInput) (*repository.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*repository.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, in service.UpdateAppointmentInput) (*repository.Appointment, error)
	CancelAppointment(ctx context.Context, id, reason string) (*repository.Appointment, error)
	RescheduleAppointment(ctx context.Context, id string, in service.RescheduleInput) (*repository.Appointment, error)
	ValidateTodayAppointment(ctx context.Context, id string) (*repository.Appointment, error)
	ListByDate(ctx context.Context, fecha, medicoID string) ([]*repository.Appointment, error)
	AvailabilityByPhysician(ctx context.Context, fecha, especialidad string) ([]service.PhysicianAvailability, error)
	DeleteAppointment(ctx context.Context, id string) error
}

// AppointmentHandler handles appointment endpoints
type AppointmentHandler struct {
	service AppointmentService
	logger  *logger.Logger
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(svc AppointmentService, log *logger.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service: svc,
		logger:  log,
	}
}

type cancelRequest struct {
	MotivoCancelacion string `json:"motivo_cancelacion" validate:"required"`
}

// decode reads and validates a JSON body, writing the error response itself
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		httputil.Error(w, err)
		return false
	}
	if err := httputil.Validate(v); err != nil {
		httputil.Error(w, err)
		return false
	}
	return true
}

func respond(w http.ResponseWriter, appt *repository.Appointment, err error) {
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, appt)
}

// Create books an appointment
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAppointmentInput
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.service.CreateAppointment(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, appt)
}

// List lists the appointments of one date, optionally for one physician
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	appts, err := h.service.ListByDate(r.Context(), q.Get("fecha"), q.Get("medico_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, appts)
}

// Get gets an appointment by ID
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.GetAppointment(r.Context(), chi.URLParam(r, "id"))
	respond(w, appt, err)
}

// Update applies a partial update
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateAppointmentInput
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.service.UpdateAppointment(r.Context(), chi.URLParam(r, "id"), req)
	respond(w, appt, err)
}

// Cancel cancels an appointment with a reason
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.service.CancelAppointment(r.Context(), chi.URLParam(r, "id"), req.MotivoCancelacion)
	respond(w, appt, err)
}

// Reschedule moves an appointment to a new date and time
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req service.RescheduleInput
	if !decode(w, r, &req) {
		return
	}

	appt, err := h.service.RescheduleAppointment(r.Context(), chi.URLParam(r, "id"), req)
	respond(w, appt, err)
}

// ValidateToday checks a patient in for today's appointment
func (h *AppointmentHandler) ValidateToday(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.ValidateTodayAppointment(r.Context(), chi.URLParam(r, "id"))
	respond(w, appt, err)
}

// Delete soft deletes an appointment
func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAppointment(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Availability lists each physician's booked blocks on a date
func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.AvailabilityByPhysician(r.Context(), q.Get("fecha"), q.Get("especialidad"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
