package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/permissions"
	"github.com/clinicaec/hospital-backend/pkg/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePatients struct {
	byCedula map[string]*repository.Patient
	calls    int
}

func (f *fakePatients) GetPatientByCedula(ctx context.Context, cedula string) (*repository.Patient, error) {
	f.calls++
	if p, ok := f.byCedula[cedula]; ok {
		return p, nil
	}
	return nil, errors.NotFound("patient")
}

func newRouter(patients PatientLookup) http.Handler {
	r := chi.NewRouter()
	r.Use(httputil.CallerIdentity)
	Routes(r, NewPatientHandler(patients, logger.Nop()))
	return r
}

func TestGetByCedula(t *testing.T) {
	patients := &fakePatients{byCedula: map[string]*repository.Patient{
		"1710034065": {ID: "pac-1", Cedula: "1710034065", Nombres: "Maria", Apellidos: "Lopez"},
	}}
	router := newRouter(patients)

	tests := []struct {
		name   string
		cedula string
		status int
		calls  int
	}{
		{"found", "1710034065", http.StatusOK, 1},
		{"valid but unknown", "0926687856", http.StatusNotFound, 1},
		{"bad check digit", "1710034066", http.StatusBadRequest, 0},
		{"bad province", "2510034065", http.StatusBadRequest, 0},
		{"too short", "171003", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patients.calls = 0
			req := testutil.WithCaller(
				testutil.NewHTTPRequest(http.MethodGet, "/patients/by-cedula/"+tt.cedula, nil),
				"user-1", "Recepcion", permissions.RoleEnfermera,
			)
			rr := testutil.ExecuteRequest(router, req)

			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.calls, patients.calls)
		})
	}
}

func TestGetByCedula_ReturnsPatient(t *testing.T) {
	router := newRouter(&fakePatients{byCedula: map[string]*repository.Patient{
		"1710034065": {ID: "pac-1", Cedula: "1710034065", Nombres: "Maria", Apellidos: "Lopez"},
	}})

	req := testutil.WithCaller(
		testutil.NewHTTPRequest(http.MethodGet, "/patients/by-cedula/1710034065", nil),
		"user-1", "Dr. House", permissions.RoleMedico,
	)
	rr := testutil.ExecuteRequest(router, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var p repository.Patient
	testutil.ParseResponse(t, rr, &p)
	assert.Equal(t, "pac-1", p.ID)
	assert.Equal(t, "Lopez", p.Apellidos)
}
