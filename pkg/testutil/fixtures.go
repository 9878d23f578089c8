//go:build integration

package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/google/uuid"
)

// FixtureFactory inserts rows for integration tests with unique keys
type FixtureFactory struct {
	db  *database.DB
	mu  sync.Mutex
	seq int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory(db *database.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// Medication inserts a medication with zero stock and returns its id
func (f *FixtureFactory) Medication(t *testing.T, ctx context.Context, nombre string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO medicamentos (id, nombre_generico, concentracion, forma_farmaceutica) VALUES ($1, $2, '500 mg', 'tableta')`,
		id, nombre)
	if err != nil {
		t.Fatalf("failed to insert medication: %v", err)
	}
	return id
}

// LotFixture describes a lot row inserted directly, bypassing the service
type LotFixture struct {
	MedicamentoID    string
	FechaVencimiento time.Time
	Cantidad         int
	Estado           string
}

// Lot inserts a lot and returns its id. The medication stock is not rolled up.
func (f *FixtureFactory) Lot(t *testing.T, ctx context.Context, lot LotFixture) string {
	t.Helper()
	if lot.Estado == "" {
		lot.Estado = "disponible"
	}
	initial := lot.Cantidad
	if initial <= 0 {
		initial = 1
	}
	id := uuid.New().String()
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO lotes (id, medicamento_id, numero_lote, fecha_ingreso, fecha_vencimiento,
			cantidad_inicial, cantidad_disponible, estado)
		VALUES ($1, $2, $3, CURRENT_DATE, $4, $5, $6, $7)`,
		id, lot.MedicamentoID, fmt.Sprintf("FX-%04d", f.nextSeq()), lot.FechaVencimiento,
		initial, lot.Cantidad, lot.Estado)
	if err != nil {
		t.Fatalf("failed to insert lot: %v", err)
	}
	return id
}

// Patient inserts a patient with the given cedula and returns its id
func (f *FixtureFactory) Patient(t *testing.T, ctx context.Context, cedula string) string {
	t.Helper()
	id := uuid.New().String()
	n := f.nextSeq()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO pacientes (id, cedula, nombres, apellidos, email) VALUES ($1, $2, $3, 'Prueba', $4)`,
		id, cedula, fmt.Sprintf("Paciente %d", n), fmt.Sprintf("paciente%d@example.com", n))
	if err != nil {
		t.Fatalf("failed to insert patient: %v", err)
	}
	return id
}

// Physician inserts an employee with cargo Medico and returns its id
func (f *FixtureFactory) Physician(t *testing.T, ctx context.Context, especialidad string) string {
	t.Helper()
	id := uuid.New().String()
	n := f.nextSeq()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO empleados (id, cedula, nombres, apellidos, cargo, especialidad) VALUES ($1, $2, $3, 'Medico', 'Medico', $4)`,
		id, fmt.Sprintf("%010d", n), fmt.Sprintf("Doctor %d", n), especialidad)
	if err != nil {
		t.Fatalf("failed to insert physician: %v", err)
	}
	return id
}
