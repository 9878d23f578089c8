package handler

import (
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the scheduling API. Callers must already be identified by
// httputil.CallerIdentity.
func Routes(r chi.Router, h *AppointmentHandler) {
	read := httputil.RequirePermission(permissions.SchedulingRead)
	write := httputil.RequirePermission(permissions.SchedulingAppointmentsWrite)
	remove := httputil.RequirePermission(permissions.SchedulingAppointmentsDelete)

	r.Route("/appointments", func(r chi.Router) {
		r.With(read).Get("/", h.List)
		r.With(write).Post("/", h.Create)
		r.With(read).Get("/{id}", h.Get)
		r.With(write).Patch("/{id}", h.Update)
		r.With(remove).Delete("/{id}", h.Delete)
		r.With(write).Post("/{id}/cancel", h.Cancel)
		r.With(write).Post("/{id}/reschedule", h.Reschedule)
		r.With(write).Post("/{id}/validate-today", h.ValidateToday)
	})

	r.With(read).Get("/availability", h.Availability)
}
