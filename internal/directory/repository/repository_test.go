package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPatientByCedula(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	mockDB.ExpectQuery(`FROM pacientes WHERE cedula = $1 AND activo = true`).
		WithArgs("1710034065").
		WillReturnRows(testutil.MockRows(
			"id", "cedula", "nombres", "apellidos", "email", "telefono", "activo",
			"fecha_eliminacion", "created_at", "updated_at",
		).AddRow("pac-1", "1710034065", "Maria", "Lopez", "maria@example.com", nil, true, nil, now, now))

	p, err := New(mockDB.Database()).GetPatientByCedula(context.Background(), "1710034065")

	require.NoError(t, err)
	assert.Equal(t, "pac-1", p.ID)
	assert.Equal(t, "Maria Lopez", p.FullName())
	require.NotNil(t, p.Email)
	assert.Nil(t, p.Telefono)
	mockDB.ExpectationsWereMet(t)
}

func TestGetPatient_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery(`FROM pacientes WHERE id = $1`).WithArgs("gone").WillReturnError(sql.ErrNoRows)

	_, err := New(mockDB.Database()).GetPatient(context.Background(), "gone")

	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestGetPhysician_RequiresMedicoCargo(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.ExpectQuery(`FROM empleados WHERE id = $1 AND cargo = $2`).
		WithArgs("emp-1", CargoMedico).
		WillReturnError(sql.ErrNoRows)

	_, err := New(mockDB.Database()).GetPhysician(context.Background(), "emp-1")

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NOT_FOUND", appErr.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestListPhysicians_BySpecialty(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	cardio := "Cardiologia"
	mockDB.ExpectQuery(`ORDER BY apellidos ASC, nombres ASC`).
		WithArgs(CargoMedico, cardio).
		WillReturnRows(testutil.MockRows(
			"id", "nombres", "apellidos", "cargo", "especialidad", "email", "activo", "created_at", "updated_at",
		).
			AddRow("emp-1", "Ana", "Andrade", CargoMedico, cardio, nil, true, now, now).
			AddRow("emp-2", "Luis", "Zambrano", CargoMedico, cardio, nil, true, now, now))

	physicians, err := New(mockDB.Database()).ListPhysicians(context.Background(), cardio)

	require.NoError(t, err)
	require.Len(t, physicians, 2)
	assert.Equal(t, "Ana Andrade", physicians[0].FullName())
	assert.Equal(t, cardio, *physicians[1].Especialidad)
	mockDB.ExpectationsWereMet(t)
}
