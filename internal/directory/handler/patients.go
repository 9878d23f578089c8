// Package handler exposes patient lookups to the front desk.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// PatientLookup finds patients by national id
type PatientLookup interface {
	GetPatientByCedula(ctx context.Context, cedula string) (*repository.Patient, error)
}

// PatientHandler handles patient endpoints
type PatientHandler struct {
	patients PatientLookup
	logger   *logger.Logger
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(patients PatientLookup, log *logger.Logger) *PatientHandler {
	return &PatientHandler{patients: patients, logger: log}
}

// GetByCedula validates the cedula before looking it up, so a typo is a 400
// and not a 404.
func (h *PatientHandler) GetByCedula(w http.ResponseWriter, r *http.Request) {
	cedula := strings.TrimSpace(chi.URLParam(r, "cedula"))
	if err := httputil.ValidateVar("cedula", cedula, "cedula_ec"); err != nil {
		httputil.Error(w, err)
		return
	}

	patient, err := h.patients.GetPatientByCedula(r.Context(), cedula)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, patient)
}

// Routes mounts /patients
func Routes(r chi.Router, h *PatientHandler) {
	r.Route("/patients", func(r chi.Router) {
		r.Use(httputil.RequirePermission(permissions.SchedulingRead))
		r.Get("/by-cedula/{cedula}", h.GetByCedula)
	})
}
