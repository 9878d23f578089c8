// Package repository reads the patient and staff directory. The tables are
// owned by the hospital's directory; this service only looks rows up.
package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
)

const patientColumns = `id, cedula, nombres, apellidos, email, telefono, activo,
	fecha_eliminacion, created_at, updated_at`

const employeeColumns = `id, nombres, apellidos, cargo, especialidad, email, activo, created_at, updated_at`

// Repository reads pacientes and empleados
type Repository struct {
	db *database.DB
}

// New creates a directory repository
func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

// GetPatient gets an active patient by ID
func (r *Repository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM pacientes WHERE id = $1 AND ` + database.OnlyActive.Clause("")
	return r.getPatient(ctx, query, id)
}

// GetPatientByCedula gets an active patient by national id number
func (r *Repository) GetPatientByCedula(ctx context.Context, cedula string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM pacientes WHERE cedula = $1 AND ` + database.OnlyActive.Clause("")
	return r.getPatient(ctx, query, cedula)
}

func (r *Repository) getPatient(ctx context.Context, query, arg string) (*Patient, error) {
	var p Patient
	if err := r.db.GetContext(ctx, &p, query, arg); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("patient")
		}
		return nil, err
	}
	return &p, nil
}

// GetPhysician gets an active employee whose cargo is Medico
func (r *Repository) GetPhysician(ctx context.Context, id string) (*Employee, error) {
	var e Employee
	query := `SELECT ` + employeeColumns + ` FROM empleados
		WHERE id = $1 AND cargo = $2 AND ` + database.OnlyActive.Clause("")
	if err := r.db.GetContext(ctx, &e, query, id, CargoMedico); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("physician")
		}
		return nil, err
	}
	return &e, nil
}

// ListPhysicians lists active physicians, optionally of one specialty
func (r *Repository) ListPhysicians(ctx context.Context, especialidad string) ([]*Employee, error) {
	var result []*Employee
	query := `SELECT ` + employeeColumns + ` FROM empleados
		WHERE cargo = $1 AND ` + database.OnlyActive.Clause("") + `
		  AND ($2::text = '' OR especialidad = $2)
		ORDER BY apellidos ASC, nombres ASC`
	if err := r.db.SelectContext(ctx, &result, query, CargoMedico, especialidad); err != nil {
		return nil, err
	}
	return result, nil
}
