package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/events"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

const (
	auditModule = "Farmacia"
	lotsTable   = "lotes"
)

// LotService is the only writer of lots and of medicamentos.stock. Every lot
// mutation rolls the medication's stock up in the same transaction.
type LotService struct {
	store  repository.Store
	audit  *audit.Recorder
	clock  clock.Clock
	logger *logger.Logger
}

// NewLotService creates a new lot service
func NewLotService(store repository.Store, recorder *audit.Recorder, clk clock.Clock, log *logger.Logger) *LotService {
	return &LotService{
		store:  store,
		audit:  recorder,
		clock:  clk,
		logger: log.WithComponent("lot-service"),
	}
}

// CreateLotInput is the body of a lot creation
type CreateLotInput struct {
	MedicamentoID      string   `json:"medicamento_id" validate:"required,uuid"`
	NumeroLote         string   `json:"numero_lote" validate:"required,max=50"`
	FechaIngreso       string   `json:"fecha_ingreso" validate:"omitempty,date"`
	FechaVencimiento   string   `json:"fecha_vencimiento" validate:"required,date"`
	CantidadInicial    int      `json:"cantidad_inicial" validate:"gt=0"`
	CantidadDisponible *int     `json:"cantidad_disponible" validate:"omitempty,gte=0"`
	UbicacionFisica    *string  `json:"ubicacion_fisica" validate:"omitempty,max=100"`
	Proveedor          *string  `json:"proveedor" validate:"omitempty,max=150"`
	NumeroFactura      *string  `json:"numero_factura" validate:"omitempty,max=50"`
	CostoUnitario      *float64 `json:"costo_unitario" validate:"omitempty,gte=0"`
	Observaciones      *string  `json:"observaciones" validate:"omitempty,max=255"`
}

// UpdateLotInput carries the fields of a partial lot update. Estado is
// accepted for compatibility but the stored state is always re-derived.
type UpdateLotInput struct {
	CantidadDisponible *int             `json:"cantidad_disponible" validate:"omitempty,gte=0"`
	UbicacionFisica    *string          `json:"ubicacion_fisica" validate:"omitempty,max=100"`
	Estado             *domain.LotState `json:"estado" validate:"omitempty,oneof=disponible proximo_a_vencer vencido agotado"`
	Observaciones      *string          `json:"observaciones" validate:"omitempty,max=255"`
}

// RecomputeResult reports what a recompute pass did
type RecomputeResult struct {
	Evaluated   int `json:"evaluados"`
	Changed     int `json:"actualizados"`
	Medications int `json:"medicamentos"`
}

// MedicationStock is a medication with its rolled-up stock
type MedicationStock struct {
	*repository.Medication
	LotesDispensables int `json:"lotes_dispensables"`
}

// DispenseResult is the outcome of a FEFO dispense
type DispenseResult struct {
	MedicamentoID  string              `json:"medicamento_id"`
	Solicitada     int                 `json:"cantidad_solicitada"`
	Asignaciones   []domain.Allocation `json:"asignaciones"`
	StockRestante  int                 `json:"stock_restante"`
	Disponibilidad domain.Availability `json:"disponibilidad"`
}

func (s *LotService) today() time.Time {
	return clock.Today(s.clock)
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errors.ValidationField(field, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

func (in CreateLotInput) toLot(today time.Time) (*repository.Lot, error) {
	expiry, err := parseDate("fecha_vencimiento", in.FechaVencimiento)
	if err != nil {
		return nil, err
	}
	ingress := today
	if in.FechaIngreso != "" {
		if ingress, err = parseDate("fecha_ingreso", in.FechaIngreso); err != nil {
			return nil, err
		}
	}
	if in.CantidadInicial <= 0 {
		return nil, errors.ValidationField("cantidad_inicial", "must be greater than 0")
	}
	available := in.CantidadInicial
	if in.CantidadDisponible != nil {
		available = *in.CantidadDisponible
	}
	if available < 0 || available > in.CantidadInicial {
		return nil, errors.ValidationField("cantidad_disponible", "must be between 0 and cantidad_inicial")
	}

	return &repository.Lot{
		MedicamentoID:      in.MedicamentoID,
		NumeroLote:         in.NumeroLote,
		FechaIngreso:       ingress,
		FechaVencimiento:   expiry,
		CantidadInicial:    in.CantidadInicial,
		CantidadDisponible: available,
		UbicacionFisica:    in.UbicacionFisica,
		Proveedor:          in.Proveedor,
		NumeroFactura:      in.NumeroFactura,
		CostoUnitario:      in.CostoUnitario,
		Estado:             domain.DeriveLotState(available, expiry, today),
		Observaciones:      in.Observaciones,
	}, nil
}

// CreateLot registers a lot for an existing medication
func (s *LotService) CreateLot(ctx context.Context, in CreateLotInput) (*repository.Lot, error) {
	lot, err := in.toLot(s.today())
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetMedicationForUpdate(ctx, lot.MedicamentoID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return errors.ReferenceNotFound("medication")
			}
			return err
		}
		if err := tx.CreateLot(ctx, lot); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, events.LotCreated(lot)); err != nil {
			return err
		}
		return s.rollUp(ctx, tx, lot.MedicamentoID)
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionCreate,
		Module:      auditModule,
		Description: fmt.Sprintf("Registro del lote %s", lot.NumeroLote),
		Table:       lotsTable,
		RecordID:    lot.ID,
		After:       lot,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("lote_id", lot.ID).
		Str("medicamento_id", lot.MedicamentoID).
		Str("estado", string(lot.Estado)).
		Msg("lot created")
	return lot, nil
}

// GetLot gets an active lot by ID
func (s *LotService) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	return s.store.GetLot(ctx, id, database.OnlyActive)
}

// GetLotByNumber gets an active lot by its lot number
func (s *LotService) GetLotByNumber(ctx context.Context, numeroLote string) (*repository.Lot, error) {
	return s.store.GetLotByNumber(ctx, numeroLote)
}

// ListLots lists lots in ascending expiry order
func (s *LotService) ListLots(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, int64, error) {
	if filter.Estado != "" && !filter.Estado.Valid() {
		return nil, 0, errors.ValidationField("estado", "unknown state")
	}
	return s.store.ListLots(ctx, filter)
}

// ListAvailableLotsForDispensing returns the lots a dispense may draw from.
// Callers must take from the front of the list first.
func (s *LotService) ListAvailableLotsForDispensing(ctx context.Context, medicamentoID string) ([]*repository.Lot, error) {
	return s.store.ListDispensableLots(ctx, medicamentoID, s.today())
}

// UpdateLot applies a partial update and re-derives the lot state
func (s *LotService) UpdateLot(ctx context.Context, id string, in UpdateLotInput) (*repository.Lot, error) {
	var before, after *repository.Lot

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		lot, err := s.lockLot(ctx, tx, id)
		if err != nil {
			return err
		}
		snapshot := *lot
		before = &snapshot

		if in.CantidadDisponible != nil {
			if *in.CantidadDisponible > lot.CantidadInicial {
				return errors.ValidationField("cantidad_disponible", "must be between 0 and cantidad_inicial")
			}
			lot.CantidadDisponible = *in.CantidadDisponible
		}
		if in.UbicacionFisica != nil {
			lot.UbicacionFisica = in.UbicacionFisica
		}
		if in.Observaciones != nil {
			lot.Observaciones = in.Observaciones
		}
		lot.Estado = domain.DeriveLotState(lot.CantidadDisponible, lot.FechaVencimiento, s.today())

		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}
		after = lot
		return s.rollUp(ctx, tx, lot.MedicamentoID)
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionUpdate,
		Module:      auditModule,
		Description: "Actualizacion de lote",
		Table:       lotsTable,
		RecordID:    id,
		Before:      before,
		After:       after,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}

	if in.Estado != nil && *in.Estado != after.Estado {
		s.logger.Debug().
			Str("lote_id", id).
			Str("solicitado", string(*in.Estado)).
			Str("derivado", string(after.Estado)).
			Msg("requested lot state ignored")
	}
	return after, nil
}

// DecrementLotQuantity takes quantity units from one lot. It returns false,
// without changing anything, when the lot holds fewer units than requested.
func (s *LotService) DecrementLotQuantity(ctx context.Context, id string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, errors.ValidationField("cantidad", "must be greater than 0")
	}

	var ok bool
	var before, after *repository.Lot
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if _, err := s.lockLot(ctx, tx, id); err != nil {
			return err
		}
		var err error
		before, after, err = s.decrement(ctx, tx, id, quantity)
		ok = after != nil
		return err
	})
	if err != nil {
		s.audit.Record(ctx, audit.Record{
			Action:      audit.ActionUpdate,
			Module:      auditModule,
			Description: fmt.Sprintf("Descuento de %d unidades", quantity),
			Table:       lotsTable,
			RecordID:    id,
			Err:         err,
		})
		return false, err
	}
	if !ok {
		s.logger.Info().Str("lote_id", id).Int("cantidad", quantity).Msg("insufficient quantity in lot")
		return false, nil
	}

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionUpdate,
		Module:      auditModule,
		Description: fmt.Sprintf("Descuento de %d unidades", quantity),
		Table:       lotsTable,
		RecordID:    id,
		Before:      before,
		After:       after,
	})
	return true, nil
}

// decrement takes quantity from a lot whose medication the transaction has
// already locked. A nil after lot means the lot could not cover the quantity.
func (s *LotService) decrement(ctx context.Context, tx repository.Store, id string, quantity int) (before, after *repository.Lot, err error) {
	lot, err := tx.GetLotForUpdate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if lot.CantidadDisponible < quantity {
		return lot, nil, nil
	}

	snapshot := *lot
	lot.CantidadDisponible -= quantity
	lot.Estado = domain.DeriveLotState(lot.CantidadDisponible, lot.FechaVencimiento, s.today())
	if err := tx.UpdateLot(ctx, lot); err != nil {
		return nil, nil, err
	}
	if err := s.rollUp(ctx, tx, lot.MedicamentoID); err != nil {
		return nil, nil, err
	}
	return &snapshot, lot, nil
}

// DispenseFEFO takes quantity units of a medication across its dispensable
// lots, earliest expiry first. The whole dispense is rolled back when the
// lots cannot cover it.
func (s *LotService) DispenseFEFO(ctx context.Context, medicamentoID string, quantity int) (*DispenseResult, error) {
	if quantity <= 0 {
		return nil, errors.ValidationField("cantidad", "must be greater than 0")
	}

	result := &DispenseResult{MedicamentoID: medicamentoID, Solicitada: quantity}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		med, err := tx.GetMedicationForUpdate(ctx, medicamentoID)
		if err != nil {
			return err
		}
		lots, err := tx.ListDispensableLots(ctx, medicamentoID, s.today())
		if err != nil {
			return err
		}

		candidates := make([]domain.LotQuantity, len(lots))
		available := 0
		for i, lot := range lots {
			candidates[i] = domain.LotQuantity{LotID: lot.ID, Quantity: lot.CantidadDisponible}
			available += lot.CantidadDisponible
		}

		result.Disponibilidad = domain.ClassifyAvailability(true, med.NombreGenerico, available, quantity)
		if result.Disponibilidad.Blocks() {
			return errors.InsufficientStock(result.Disponibilidad.Mensaje)
		}

		plan, shortfall := domain.AllocateFEFO(candidates, quantity)
		if shortfall > 0 {
			return errors.InsufficientStock(fmt.Sprintf("%d units could not be allocated", shortfall))
		}

		for _, a := range plan {
			_, after, err := s.decrement(ctx, tx, a.LoteID, a.Cantidad)
			if err != nil {
				return err
			}
			if after == nil {
				return errors.InsufficientStock("lot " + a.LoteID + " changed during dispensing")
			}
		}
		result.Asignaciones = plan

		updated, err := tx.GetMedication(ctx, medicamentoID)
		if err != nil {
			return err
		}
		result.StockRestante = updated.Stock
		return nil
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionUpdate,
		Module:      auditModule,
		Description: fmt.Sprintf("Dispensacion FEFO de %d unidades", quantity),
		Table:       "medicamentos",
		RecordID:    medicamentoID,
		After:       result.Asignaciones,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicamento_id", medicamentoID).
		Int("cantidad", quantity).
		Int("lotes", len(result.Asignaciones)).
		Msg("medication dispensed")
	return result, nil
}

// DeleteLot soft deletes a lot and removes it from the stock
func (s *LotService) DeleteLot(ctx context.Context, id string) error {
	var before *repository.Lot
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		lot, err := s.lockLot(ctx, tx, id)
		if err != nil {
			return err
		}
		before = lot
		if err := tx.DeleteLot(ctx, id); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, events.LotDeleted(lot)); err != nil {
			return err
		}
		return s.rollUp(ctx, tx, lot.MedicamentoID)
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionDelete,
		Module:      auditModule,
		Description: "Eliminacion de lote",
		Table:       lotsTable,
		RecordID:    id,
		Before:      before,
		Err:         err,
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("lote_id", id).Msg("lot deleted")
	return nil
}

// RestoreLot reverses a soft delete. The state is re-derived since the lot
// may have expired while deleted.
func (s *LotService) RestoreLot(ctx context.Context, id string) (*repository.Lot, error) {
	var restored *repository.Lot
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		lot, err := tx.GetLot(ctx, id, database.IncludeDeleted)
		if err != nil {
			return err
		}
		if _, err := tx.GetMedicationForUpdate(ctx, lot.MedicamentoID); err != nil {
			return err
		}
		if lot, err = tx.GetLot(ctx, id, database.IncludeDeleted); err != nil {
			return err
		}
		if lot.Activo {
			return errors.InvalidState("lot is not deleted")
		}
		if err := tx.RestoreLot(ctx, id); err != nil {
			return err
		}
		lot.Activo = true
		lot.FechaEliminacion = nil

		if derived := domain.DeriveLotState(lot.CantidadDisponible, lot.FechaVencimiento, s.today()); derived != lot.Estado {
			if err := tx.UpdateLotState(ctx, id, derived); err != nil {
				return err
			}
			lot.Estado = derived
		}
		restored = lot
		return s.rollUp(ctx, tx, lot.MedicamentoID)
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionRestore,
		Module:      auditModule,
		Description: "Restauracion de lote",
		Table:       lotsTable,
		RecordID:    id,
		After:       restored,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// RecomputeAllLotStates re-derives every active lot's state for today and
// persists only the lots whose state changed.
func (s *LotService) RecomputeAllLotStates(ctx context.Context) (RecomputeResult, error) {
	var result RecomputeResult
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		lots, err := tx.ListActiveLots(ctx)
		if err != nil {
			return err
		}

		today := s.today()
		byMedication := make(map[string][]string)
		for _, lot := range lots {
			result.Evaluated++
			if domain.DeriveLotState(lot.CantidadDisponible, lot.FechaVencimiento, today) != lot.Estado {
				byMedication[lot.MedicamentoID] = append(byMedication[lot.MedicamentoID], lot.ID)
			}
		}

		meds := make([]string, 0, len(byMedication))
		for id := range byMedication {
			meds = append(meds, id)
		}
		sort.Strings(meds)
		for _, medID := range meds {
			changed, err := s.recomputeMedication(ctx, tx, medID, byMedication[medID], today)
			if err != nil {
				return err
			}
			result.Changed += changed
		}
		result.Medications = len(meds)

		if result.Changed == 0 {
			return nil
		}
		return tx.Enqueue(ctx, events.LotStatesRecomputed(result.Evaluated, result.Changed, result.Medications))
	})
	if err != nil {
		s.audit.Record(ctx, audit.Record{
			Action:      audit.ActionUpdate,
			Module:      auditModule,
			Description: "Recalculo de estados de lotes",
			Table:       lotsTable,
			Err:         err,
		})
		return RecomputeResult{}, err
	}

	if result.Changed > 0 {
		s.audit.Record(ctx, audit.Record{
			Action:      audit.ActionUpdate,
			Module:      auditModule,
			Description: "Recalculo de estados de lotes",
			Table:       lotsTable,
			After:       result,
		})
	}

	s.logger.Info().
		Int("evaluados", result.Evaluated).
		Int("actualizados", result.Changed).
		Int("medicamentos", result.Medications).
		Msg("lot states recomputed")
	return result, nil
}

// GetMedicationStock returns a medication with its stock and the number of
// lots that can currently be dispensed.
func (s *LotService) GetMedicationStock(ctx context.Context, medicamentoID string) (*MedicationStock, error) {
	med, err := s.store.GetMedication(ctx, medicamentoID)
	if err != nil {
		return nil, err
	}
	lots, err := s.store.ListDispensableLots(ctx, medicamentoID, s.today())
	if err != nil {
		return nil, err
	}
	return &MedicationStock{Medication: med, LotesDispensables: len(lots)}, nil
}

// AverageUnitCost returns the quantity-weighted unit cost of the
// medication's stocked lots. It is nil when no such lot has a cost.
func (s *LotService) AverageUnitCost(ctx context.Context, medicamentoID string) (*float64, error) {
	if _, err := s.store.GetMedication(ctx, medicamentoID); err != nil {
		return nil, err
	}
	return s.store.AverageUnitCost(ctx, medicamentoID)
}

// lockLot locks the lot's medication row and then the lot row. Every lot
// mutation takes the medication lock first.
func (s *LotService) lockLot(ctx context.Context, tx repository.Store, id string) (*repository.Lot, error) {
	lot, err := tx.GetLot(ctx, id, database.OnlyActive)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetMedicationForUpdate(ctx, lot.MedicamentoID); err != nil {
		return nil, err
	}
	return tx.GetLotForUpdate(ctx, id)
}

// recomputeMedication re-derives the given lots of one medication under its
// row lock and rolls the stock up. Lots are re-read since they may have
// changed between the scan and the lock.
func (s *LotService) recomputeMedication(ctx context.Context, tx repository.Store, medicamentoID string, lotIDs []string, today time.Time) (int, error) {
	if _, err := tx.GetMedicationForUpdate(ctx, medicamentoID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	changed := 0
	for _, id := range lotIDs {
		lot, err := tx.GetLotForUpdate(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		derived := domain.DeriveLotState(lot.CantidadDisponible, lot.FechaVencimiento, today)
		if derived == lot.Estado {
			continue
		}
		if err := tx.UpdateLotState(ctx, id, derived); err != nil {
			return 0, err
		}
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.rollUp(ctx, tx, medicamentoID)
}

// rollUp recomputes the medication stock and queues a stock_agotado notice
// when the stock has just reached zero.
func (s *LotService) rollUp(ctx context.Context, tx repository.Store, medicamentoID string) error {
	med, err := tx.GetMedication(ctx, medicamentoID)
	if err != nil {
		return err
	}
	stock, err := tx.RollUpStock(ctx, medicamentoID)
	if err != nil {
		return err
	}
	if stock == 0 && med.Stock > 0 {
		med.Stock = 0
		if err := tx.Enqueue(ctx, events.StockDepleted(med)); err != nil {
			return err
		}
		s.logger.Warn().
			Str("medicamento_id", medicamentoID).
			Str("nombre", med.NombreGenerico).
			Msg("medication stock depleted")
	}
	return nil
}
