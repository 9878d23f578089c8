package service

import (
	"context"
	"testing"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecomputer struct {
	calls chan struct{}
	ctx   context.Context
}

func (c *countingRecomputer) RecomputeAllLotStates(ctx context.Context) (RecomputeResult, error) {
	c.ctx = ctx
	c.calls <- struct{}{}
	return RecomputeResult{}, nil
}

func nopLogger() *logger.Logger {
	return logger.Nop()
}

func TestAlerts_StockLevels(t *testing.T) {
	f := newFixture(t)
	low := f.store.addMedication("Amoxicilina")
	ok := f.store.addMedication("Paracetamol")
	empty := f.store.addMedication("Omeprazol")
	f.createLot(t, low, "AM-1", 9, 200)
	f.createLot(t, ok, "PA-1", 10, 200)

	critical, err := f.alerts.CriticalStock(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, low, critical[0].MedicamentoID)
	assert.Equal(t, domain.SeverityWarning, critical[0].Severidad)
	assert.Equal(t, 9, critical[0].Stock)

	depleted, err := f.alerts.DepletedStock(context.Background())
	require.NoError(t, err)
	require.Len(t, depleted, 1)
	assert.Equal(t, empty, depleted[0].MedicamentoID)
	assert.Equal(t, domain.SeverityCritical, depleted[0].Severidad)

	wider, err := f.alerts.CriticalStock(context.Background(), 11)
	require.NoError(t, err)
	assert.Len(t, wider, 2)
}

func TestAlerts_Expiry(t *testing.T) {
	f := newFixture(t)
	med := f.store.addMedication("Paracetamol")
	f.createLot(t, med, "TODAY", 3, 0)
	f.createLot(t, med, "D15", 3, 15)
	f.createLot(t, med, "D16", 3, 16)
	f.createLot(t, med, "D30", 3, 30)
	f.createLot(t, med, "D31", 3, 31)
	f.createLot(t, med, "PAST", 5, -1)
	zero := 0
	_, err := f.lots.CreateLot(context.Background(), CreateLotInput{
		MedicamentoID: med, NumeroLote: "EMPTY", FechaVencimiento: f.expiresIn(3), CantidadInicial: 4, CantidadDisponible: &zero,
	})
	require.NoError(t, err)

	near, err := f.alerts.NearExpiry(context.Background(), 30)
	require.NoError(t, err)

	got := map[string]domain.Severity{}
	for _, a := range near {
		got[a.NumeroLote] = a.Severidad
	}
	assert.Equal(t, map[string]domain.Severity{
		"TODAY": domain.SeverityCritical,
		"D15":   domain.SeverityCritical,
		"D16":   domain.SeverityWarning,
		"D30":   domain.SeverityWarning,
	}, got)
	assert.Equal(t, "TODAY", near[0].NumeroLote)
	assert.Equal(t, 0, near[0].DiasRestantes)

	expired, err := f.alerts.Expired(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "PAST", expired[0].NumeroLote)
	assert.Equal(t, domain.SeverityCritical, expired[0].Severidad)
	assert.Equal(t, -1, expired[0].DiasRestantes)
	assert.Equal(t, "Paracetamol", expired[0].NombreGenerico)
}

func TestCheckAvailabilityForPrescription(t *testing.T) {
	f := newFixture(t)
	med := f.store.addMedication("Paracetamol")
	gone := f.store.addMedication("Omeprazol")
	f.createLot(t, med, "A", 20, 60)
	f.createLot(t, med, "EXPIRED", 100, -3)

	tests := []struct {
		name     string
		medID    string
		qty      int
		estado   domain.AvailabilityStatus
		severity domain.Severity
		blocks   bool
	}{
		{"unknown medication", "3d9b5a36-0000-4000-8000-000000000000", 1, domain.AvailabilityNotFound, domain.SeverityCritical, true},
		{"depleted", gone, 1, domain.AvailabilityDepleted, domain.SeverityCritical, true},
		{"insufficient", med, 21, domain.AvailabilityInsufficient, domain.SeverityCritical, true},
		{"low", med, 11, domain.AvailabilityLow, domain.SeverityWarning, false},
		{"exactly half", med, 10, domain.AvailabilityOK, domain.SeverityInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.alerts.CheckAvailabilityForPrescription(context.Background(), tt.medID, tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.estado, got.Estado)
			assert.Equal(t, tt.severity, got.Severidad)
			assert.Equal(t, tt.blocks, got.Blocks())
			assert.NotEmpty(t, got.Mensaje)
		})
	}

	_, err := f.alerts.CheckAvailabilityForPrescription(context.Background(), med, 0)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, err))
}

func TestAlerts_AllCategories(t *testing.T) {
	f := newFixture(t)
	low := f.store.addMedication("Amoxicilina")
	empty := f.store.addMedication("Omeprazol")
	f.createLot(t, low, "AM-1", 5, 10)
	f.createLot(t, low, "AM-OLD", 5, -10)

	set, err := f.alerts.Alerts(context.Background())
	require.NoError(t, err)

	require.Len(t, set.StockCritico, 1)
	assert.Equal(t, low, set.StockCritico[0].MedicamentoID)
	require.Len(t, set.Agotados, 1)
	assert.Equal(t, empty, set.Agotados[0].MedicamentoID)
	require.Len(t, set.ProximoAVencer, 1)
	assert.Equal(t, "AM-1", set.ProximoAVencer[0].NumeroLote)
	assert.Equal(t, 10, set.ProximoAVencer[0].DiasRestantes)
	require.Len(t, set.Vencidos, 1)
	assert.Equal(t, "AM-OLD", set.Vencidos[0].NumeroLote)
	assert.Equal(t, AlertSummary{StockCritico: 1, Agotados: 1, ProximoAVencer: 1, Vencidos: 1, Total: 4}, set.Resumen)
}

func TestAlerts_EmptyCategoriesAreEmptyLists(t *testing.T) {
	f := newFixture(t)

	set, err := f.alerts.Alerts(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, set.StockCritico)
	assert.NotNil(t, set.Agotados)
	assert.NotNil(t, set.ProximoAVencer)
	assert.NotNil(t, set.Vencidos)
	assert.Zero(t, set.Resumen.Total)
}

func TestAlertSummary(t *testing.T) {
	f := newFixture(t)
	low := f.store.addMedication("Amoxicilina")
	f.store.addMedication("Omeprazol")
	f.createLot(t, low, "AM-1", 5, 10)
	f.createLot(t, low, "AM-OLD", 5, -10)

	summary, err := f.alerts.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, AlertSummary{StockCritico: 1, Agotados: 1, ProximoAVencer: 1, Vencidos: 1, Total: 4}, *summary)
}
