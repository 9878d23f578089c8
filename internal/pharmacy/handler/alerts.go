package handler

import (
	"context"
	"net/http"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/service"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

// AlertService is the alert evaluation the handlers expose
type AlertService interface {
	CriticalStock(ctx context.Context, threshold int) ([]service.StockAlert, error)
	DepletedStock(ctx context.Context) ([]service.StockAlert, error)
	NearExpiry(ctx context.Context, days int) ([]service.LotAlert, error)
	Expired(ctx context.Context) ([]service.LotAlert, error)
	CheckAvailabilityForPrescription(ctx context.Context, medicamentoID string, quantity int) (domain.Availability, error)
	Summary(ctx context.Context) (*service.AlertSummary, error)
	Alerts(ctx context.Context) (*service.AlertSet, error)
}

// AlertHandler handles alert endpoints
type AlertHandler struct {
	service AlertService
	logger  *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(svc AlertService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		service: svc,
		logger:  log,
	}
}

type prescriptionCheckRequest struct {
	MedicamentoID string `json:"medicamento_id" validate:"required,uuid"`
	Cantidad      int    `json:"cantidad" validate:"gt=0"`
}

// CriticalStock lists medications below the stock threshold
func (h *AlertHandler) CriticalStock(w http.ResponseWriter, r *http.Request) {
	threshold := httputil.QueryInt(r, "umbral", domain.CriticalStockThreshold)
	alerts, err := h.service.CriticalStock(r.Context(), threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// Depleted lists medications with no stock
func (h *AlertHandler) Depleted(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.DepletedStock(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// NearExpiry lists lots expiring soon
func (h *AlertHandler) NearExpiry(w http.ResponseWriter, r *http.Request) {
	days := httputil.QueryInt(r, "dias", domain.NearExpiryWindowDays)
	alerts, err := h.service.NearExpiry(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// Expired lists expired lots with stock
func (h *AlertHandler) Expired(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.Expired(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// All returns every alert category in one response
func (h *AlertHandler) All(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.Alerts(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, set)
}

// Summary counts the alerts per category
func (h *AlertHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// PrescriptionCheck grades a prescription against current stock. A blocking
// result is still a 200; callers read disponible.
func (h *AlertHandler) PrescriptionCheck(w http.ResponseWriter, r *http.Request) {
	var req prescriptionCheckRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.CheckAvailabilityForPrescription(r.Context(), req.MedicamentoID, req.Cantidad)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
