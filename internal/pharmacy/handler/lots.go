package handler

import (
	"context"
	"net/http"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/service"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// LotService is the lot inventory behaviour the handlers expose
type LotService interface {
	CreateLot(ctx context.Context, in service.CreateLotInput) (*repository.Lot, error)
	GetLot(ctx context.Context, id string) (*repository.Lot, error)
	GetLotByNumber(ctx context.Context, numeroLote string) (*repository.Lot, error)
	ListLots(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, int64, error)
	ListAvailableLotsForDispensing(ctx context.Context, medicamentoID string) ([]*repository.Lot, error)
	UpdateLot(ctx context.Context, id string, in service.UpdateLotInput) (*repository.Lot, error)
	DecrementLotQuantity(ctx context.Context, id string, quantity int) (bool, error)
	DispenseFEFO(ctx context.Context, medicamentoID string, quantity int) (*service.DispenseResult, error)
	DeleteLot(ctx context.Context, id string) error
	RestoreLot(ctx context.Context, id string) (*repository.Lot, error)
	RecomputeAllLotStates(ctx context.Context) (service.RecomputeResult, error)
	GetMedicationStock(ctx context.Context, medicamentoID string) (*service.MedicationStock, error)
	AverageUnitCost(ctx context.Context, medicamentoID string) (*float64, error)
}

// LotHandler handles lot and medication stock endpoints
type LotHandler struct {
	service LotService
	logger  *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc LotService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		logger:  log,
	}
}

type quantityRequest struct {
	Cantidad int `json:"cantidad" validate:"gt=0"`
}

// List lists lots in FEFO display order
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.LotFilter{
		MedicamentoID: r.URL.Query().Get("medicamento_id"),
		Estado:        domain.LotState(r.URL.Query().Get("estado")),
		Page:          httputil.QueryInt(r, "page", 1),
		PerPage:       httputil.QueryInt(r, "per_page", 20),
	}
	filter.Normalize()

	lots, total, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, lots, httputil.NewMeta(filter.Page, filter.PerPage, total))
}

// Create registers a lot
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLotInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.CreateLot(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.GetLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// GetByNumber gets a lot by its lot number
func (h *LotHandler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.GetLotByNumber(r.Context(), chi.URLParam(r, "numero"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Update applies a partial update
func (h *LotHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateLotInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.UpdateLot(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Delete soft deletes a lot
func (h *LotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteLot(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Restore reverses a soft delete
func (h *LotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	lot, err := h.service.RestoreLot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Decrement takes units from a single lot. Insufficient quantity is a
// normal 200 response with decrementado false.
func (h *LotHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	ok, err := h.service.DecrementLotQuantity(r.Context(), id, req.Cantidad)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"lote_id":      id,
		"cantidad":     req.Cantidad,
		"decrementado": ok,
	})
}

// Recompute re-derives every lot state now
func (h *LotHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RecomputeAllLotStates(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Stock returns a medication with its current stock
func (h *LotHandler) Stock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.GetMedicationStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stock)
}

// DispensableLots lists a medication's lots in dispensing order
func (h *LotHandler) DispensableLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ListAvailableLotsForDispensing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// AverageCost returns the weighted unit cost of a medication's stock
func (h *LotHandler) AverageCost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	avg, err := h.service.AverageUnitCost(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicamento_id": id,
		"costo_promedio": avg,
	})
}

// Dispense takes units of a medication across lots in FEFO order
func (h *LotHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.DispenseFEFO(r.Context(), chi.URLParam(r, "id"), req.Cantidad)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
