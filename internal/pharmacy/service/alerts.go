package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

// Alert types
const (
	AlertCriticalStock = "stock_critico"
	AlertDepleted      = "agotado"
	AlertNearExpiry    = "proximo_a_vencer"
	AlertExpired       = "vencido"
)

// StockAlert is a medication level alert
type StockAlert struct {
	Tipo           string          `json:"tipo"`
	Severidad      domain.Severity `json:"severidad"`
	MedicamentoID  string          `json:"medicamento_id"`
	NombreGenerico string          `json:"nombre_generico"`
	Stock          int             `json:"stock"`
	Mensaje        string          `json:"mensaje"`
}

// LotAlert is a lot level expiry alert
type LotAlert struct {
	Tipo               string          `json:"tipo"`
	Severidad          domain.Severity `json:"severidad"`
	LoteID             string          `json:"lote_id"`
	NumeroLote         string          `json:"numero_lote"`
	MedicamentoID      string          `json:"medicamento_id"`
	NombreGenerico     string          `json:"nombre_generico"`
	FechaVencimiento   string          `json:"fecha_vencimiento"`
	DiasRestantes      int             `json:"dias_restantes"`
	CantidadDisponible int             `json:"cantidad_disponible"`
	UbicacionFisica    *string         `json:"ubicacion_fisica,omitempty"`
	Mensaje            string          `json:"mensaje"`
}

// AlertSummary counts the current alerts per category
type AlertSummary struct {
	StockCritico   int `json:"stock_critico"`
	Agotados       int `json:"agotados"`
	ProximoAVencer int `json:"proximos_a_vencer"`
	Vencidos       int `json:"vencidos"`
	Total          int `json:"total"`
}

// AlertSet is every current alert, grouped by category
type AlertSet struct {
	StockCritico   []StockAlert `json:"stock_critico"`
	Agotados       []StockAlert `json:"agotados"`
	ProximoAVencer []LotAlert   `json:"proximos_a_vencer"`
	Vencidos       []LotAlert   `json:"vencidos"`
	Resumen        AlertSummary `json:"resumen"`
}

// AlertService derives alerts from the current lot and stock state. Nothing
// is stored; every call reads fresh state.
type AlertService struct {
	store  repository.Store
	clock  clock.Clock
	logger *logger.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(store repository.Store, clk clock.Clock, log *logger.Logger) *AlertService {
	return &AlertService{
		store:  store,
		clock:  clk,
		logger: log.WithComponent("alert-service"),
	}
}

// CriticalStock lists medications with 0 < stock < threshold. A threshold
// below 1 uses the default of 10.
func (s *AlertService) CriticalStock(ctx context.Context, threshold int) ([]StockAlert, error) {
	if threshold < 1 {
		threshold = domain.CriticalStockThreshold
	}
	meds, err := s.store.LowStockMedications(ctx, threshold)
	if err != nil {
		return nil, err
	}

	alerts := make([]StockAlert, 0, len(meds))
	for _, med := range meds {
		alerts = append(alerts, StockAlert{
			Tipo:           AlertCriticalStock,
			Severidad:      domain.SeverityWarning,
			MedicamentoID:  med.ID,
			NombreGenerico: med.NombreGenerico,
			Stock:          med.Stock,
			Mensaje:        fmt.Sprintf("%s: stock crítico (%d unidades)", med.NombreGenerico, med.Stock),
		})
	}
	return alerts, nil
}

// DepletedStock lists medications with no stock
func (s *AlertService) DepletedStock(ctx context.Context) ([]StockAlert, error) {
	meds, err := s.store.DepletedMedications(ctx)
	if err != nil {
		return nil, err
	}

	alerts := make([]StockAlert, 0, len(meds))
	for _, med := range meds {
		alerts = append(alerts, StockAlert{
			Tipo:           AlertDepleted,
			Severidad:      domain.SeverityCritical,
			MedicamentoID:  med.ID,
			NombreGenerico: med.NombreGenerico,
			Mensaje:        fmt.Sprintf("%s está agotado", med.NombreGenerico),
		})
	}
	return alerts, nil
}

// NearExpiry lists stocked lots expiring within days of today, today
// included. A value below 1 uses the default window of 30 days.
func (s *AlertService) NearExpiry(ctx context.Context, days int) ([]LotAlert, error) {
	if days < 1 {
		days = domain.NearExpiryWindowDays
	}
	today := clock.Today(s.clock)
	lots, err := s.store.NearExpiryLots(ctx, today, today.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	alerts := make([]LotAlert, 0, len(lots))
	for _, lot := range lots {
		left := clock.DaysBetween(today, lot.FechaVencimiento)
		alert := lotAlert(lot, AlertNearExpiry, domain.NearExpirySeverity(left), left)
		alert.Mensaje = fmt.Sprintf("Lote %s de %s vence en %d días", lot.NumeroLote, lot.NombreGenerico, left)
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Expired lists lots past expiry that still hold stock
func (s *AlertService) Expired(ctx context.Context) ([]LotAlert, error) {
	today := clock.Today(s.clock)
	lots, err := s.store.ExpiredLots(ctx, today)
	if err != nil {
		return nil, err
	}

	alerts := make([]LotAlert, 0, len(lots))
	for _, lot := range lots {
		left := clock.DaysBetween(today, lot.FechaVencimiento)
		alert := lotAlert(lot, AlertExpired, domain.SeverityCritical, left)
		alert.Mensaje = fmt.Sprintf("Lote %s de %s venció hace %d días", lot.NumeroLote, lot.NombreGenerico, -left)
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func lotAlert(lot *repository.LotWithMedication, tipo string, sev domain.Severity, left int) LotAlert {
	return LotAlert{
		Tipo:               tipo,
		Severidad:          sev,
		LoteID:             lot.ID,
		NumeroLote:         lot.NumeroLote,
		MedicamentoID:      lot.MedicamentoID,
		NombreGenerico:     lot.NombreGenerico,
		FechaVencimiento:   lot.FechaVencimiento.Format(time.DateOnly),
		DiasRestantes:      left,
		CantidadDisponible: lot.CantidadDisponible,
		UbicacionFisica:    lot.UbicacionFisica,
	}
}

// CheckAvailabilityForPrescription grades whether quantity units of a
// medication can be prescribed. A blocking result must stop the prescription.
func (s *AlertService) CheckAvailabilityForPrescription(ctx context.Context, medicamentoID string, quantity int) (domain.Availability, error) {
	if quantity <= 0 {
		return domain.Availability{}, errors.ValidationField("cantidad", "must be greater than 0")
	}

	med, err := s.store.GetMedication(ctx, medicamentoID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return domain.ClassifyAvailability(false, "", 0, quantity), nil
		}
		return domain.Availability{}, err
	}

	lots, err := s.store.ListDispensableLots(ctx, medicamentoID, clock.Today(s.clock))
	if err != nil {
		return domain.Availability{}, err
	}
	available := 0
	for _, lot := range lots {
		available += lot.CantidadDisponible
	}

	result := domain.ClassifyAvailability(true, med.NombreGenerico, available, quantity)
	if result.Blocks() {
		s.logger.Info().
			Str("medicamento_id", medicamentoID).
			Str("estado", string(result.Estado)).
			Int("solicitada", quantity).
			Int("disponible", available).
			Msg("prescription blocked by stock")
	}
	return result, nil
}

// Alerts evaluates every alert category with default thresholds
func (s *AlertService) Alerts(ctx context.Context) (*AlertSet, error) {
	critical, err := s.CriticalStock(ctx, domain.CriticalStockThreshold)
	if err != nil {
		return nil, err
	}
	depleted, err := s.DepletedStock(ctx)
	if err != nil {
		return nil, err
	}
	near, err := s.NearExpiry(ctx, domain.NearExpiryWindowDays)
	if err != nil {
		return nil, err
	}
	expired, err := s.Expired(ctx)
	if err != nil {
		return nil, err
	}

	set := &AlertSet{
		StockCritico:   critical,
		Agotados:       depleted,
		ProximoAVencer: near,
		Vencidos:       expired,
	}
	set.Resumen = AlertSummary{
		StockCritico:   len(critical),
		Agotados:       len(depleted),
		ProximoAVencer: len(near),
		Vencidos:       len(expired),
	}
	set.Resumen.Total = len(critical) + len(depleted) + len(near) + len(expired)
	return set, nil
}

// Summary counts every alert category with default thresholds
func (s *AlertService) Summary(ctx context.Context) (*AlertSummary, error) {
	set, err := s.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	return &set.Resumen, nil
}
