package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence the pharmacy services depend on. Every method
// runs on the same connection or transaction the Store was obtained from.
type Store interface {
	// InTx runs fn inside a transaction. Calls on a Store that is already
	// transactional reuse the open transaction.
	InTx(ctx context.Context, fn func(Store) error) error

	GetMedication(ctx context.Context, id string) (*Medication, error)
	GetMedicationForUpdate(ctx context.Context, id string) (*Medication, error)
	RollUpStock(ctx context.Context, medicamentoID string) (int, error)
	LowStockMedications(ctx context.Context, threshold int) ([]*Medication, error)
	DepletedMedications(ctx context.Context) ([]*Medication, error)

	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, id string, vis database.Visibility) (*Lot, error)
	GetLotByNumber(ctx context.Context, numeroLote string) (*Lot, error)
	GetLotForUpdate(ctx context.Context, id string) (*Lot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]*Lot, int64, error)
	ListDispensableLots(ctx context.Context, medicamentoID string, today time.Time) ([]*Lot, error)
	ListActiveLots(ctx context.Context) ([]*Lot, error)
	UpdateLot(ctx context.Context, lot *Lot) error
	UpdateLotState(ctx context.Context, id string, estado domain.LotState) error
	DeleteLot(ctx context.Context, id string) error
	RestoreLot(ctx context.Context, id string) error

	NearExpiryLots(ctx context.Context, from, until time.Time) ([]*LotWithMedication, error)
	ExpiredLots(ctx context.Context, today time.Time) ([]*LotWithMedication, error)
	AverageUnitCost(ctx context.Context, medicamentoID string) (*float64, error)

	Enqueue(ctx context.Context, msg outbox.Message) error
}

var (
	dialect = goqu.Dialect("postgres")

	lots = database.SoftDeletable{Table: "lotes", Resource: "lot"}
)

const lotColumns = `id, medicamento_id, numero_lote, fecha_ingreso, fecha_vencimiento,
	cantidad_inicial, cantidad_disponible, ubicacion_fisica, proveedor, numero_factura,
	costo_unitario, estado, observaciones, activo, fecha_eliminacion, created_at, updated_at`

const medicationColumns = `id, nombre_generico, nombre_comercial, concentracion, forma_farmaceutica,
	stock, activo, fecha_eliminacion, created_at, updated_at`

// Repository implements Store on PostgreSQL
type Repository struct {
	db *database.DB
	q  database.Queryer
	tx bool
}

// New creates a repository bound to the connection pool
func New(db *database.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn inside a transaction
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.tx {
		return fn(r)
	}
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(&Repository{db: r.db, q: tx, tx: true})
	})
}

// Medications

// GetMedication returns an active medication
func (r *Repository) GetMedication(ctx context.Context, id string) (*Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medicamentos WHERE id = $1 AND ` + database.OnlyActive.Clause("")
	return r.getMedication(ctx, query, id)
}

// GetMedicationForUpdate reads an active medication and locks its row until
// the transaction ends. Lot mutations take this lock before touching any lot
// so that roll-ups of the same medication run one at a time.
func (r *Repository) GetMedicationForUpdate(ctx context.Context, id string) (*Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medicamentos WHERE id = $1 AND activo = true FOR UPDATE`
	return r.getMedication(ctx, query, id)
}

func (r *Repository) getMedication(ctx context.Context, query string, id string) (*Medication, error) {
	var med Medication
	if err := r.q.GetContext(ctx, &med, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return &med, nil
}

const rollUpQuery = `
	UPDATE medicamentos SET stock = (
		SELECT COALESCE(SUM(cantidad_disponible), 0) FROM lotes
		WHERE medicamento_id = $1 AND activo = true AND estado IN ('disponible', 'proximo_a_vencer')
	)
	WHERE id = $1
	RETURNING stock`

// RollUpStock recomputes medicamentos.stock from the medication's lots and
// returns the new value.
func (r *Repository) RollUpStock(ctx context.Context, medicamentoID string) (int, error) {
	var stock int
	if err := r.q.GetContext(ctx, &stock, rollUpQuery, medicamentoID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return 0, errors.NotFound("medication")
		}
		return 0, err
	}
	return stock, nil
}

// LowStockMedications returns active medications with 0 < stock < threshold
func (r *Repository) LowStockMedications(ctx context.Context, threshold int) ([]*Medication, error) {
	var meds []*Medication
	query := `SELECT ` + medicationColumns + ` FROM medicamentos
		WHERE activo = true AND stock > 0 AND stock < $1
		ORDER BY stock ASC, nombre_generico ASC`
	if err := r.q.SelectContext(ctx, &meds, query, threshold); err != nil {
		return nil, err
	}
	return meds, nil
}

// DepletedMedications returns active medications with zero stock
func (r *Repository) DepletedMedications(ctx context.Context) ([]*Medication, error) {
	var meds []*Medication
	query := `SELECT ` + medicationColumns + ` FROM medicamentos
		WHERE activo = true AND stock = 0
		ORDER BY nombre_generico ASC`
	if err := r.q.SelectContext(ctx, &meds, query); err != nil {
		return nil, err
	}
	return meds, nil
}

// Lots

const insertLotQuery = `
	INSERT INTO lotes (
		id, medicamento_id, numero_lote, fecha_ingreso, fecha_vencimiento,
		cantidad_inicial, cantidad_disponible, ubicacion_fisica, proveedor,
		numero_factura, costo_unitario, estado, observaciones
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING activo, created_at, updated_at`

// CreateLot inserts a lot
func (r *Repository) CreateLot(ctx context.Context, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	err := r.q.QueryRowxContext(ctx, insertLotQuery,
		lot.ID, lot.MedicamentoID, lot.NumeroLote, lot.FechaIngreso, lot.FechaVencimiento,
		lot.CantidadInicial, lot.CantidadDisponible, lot.UbicacionFisica, lot.Proveedor,
		lot.NumeroFactura, lot.CostoUnitario, lot.Estado, lot.Observaciones,
	).Scan(&lot.Activo, &lot.CreatedAt, &lot.UpdatedAt)
	return database.MapError(err)
}

// GetLot gets a lot by ID
func (r *Repository) GetLot(ctx context.Context, id string, vis database.Visibility) (*Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lotes WHERE id = $1 AND ` + vis.Clause("")
	return r.getLot(ctx, query, id)
}

// GetLotByNumber gets an active lot by its lot number
func (r *Repository) GetLotByNumber(ctx context.Context, numeroLote string) (*Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lotes WHERE numero_lote = $1 AND ` + database.OnlyActive.Clause("")
	return r.getLot(ctx, query, numeroLote)
}

// GetLotForUpdate reads an active lot and locks its row until the
// transaction ends.
func (r *Repository) GetLotForUpdate(ctx context.Context, id string) (*Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lotes WHERE id = $1 AND activo = true FOR UPDATE`
	return r.getLot(ctx, query, id)
}

func (r *Repository) getLot(ctx context.Context, query string, arg interface{}) (*Lot, error) {
	var lot Lot
	if err := r.q.GetContext(ctx, &lot, query, arg); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

func lotSelectColumns() []interface{} {
	cols := strings.Split(lotColumns, ",")
	out := make([]interface{}, 0, len(cols))
	for _, c := range cols {
		out = append(out, strings.TrimSpace(c))
	}
	return out
}

// ListLots lists active lots in FEFO display order with optional filters
func (r *Repository) ListLots(ctx context.Context, filter LotFilter) ([]*Lot, int64, error) {
	filter.Normalize()

	ds := dialect.From("lotes").Prepared(true).Where(goqu.C("activo").IsTrue())
	if filter.MedicamentoID != "" {
		ds = ds.Where(goqu.C("medicamento_id").Eq(filter.MedicamentoID))
	}
	if filter.Estado != "" {
		ds = ds.Where(goqu.C("estado").Eq(string(filter.Estado)))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int64
	if err := r.q.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := ds.Select(lotSelectColumns()...).
		Order(goqu.C("fecha_vencimiento").Asc(), goqu.C("numero_lote").Asc()).
		Limit(uint(filter.PerPage)).
		Offset(uint((filter.Page - 1) * filter.PerPage)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	var result []*Lot
	if err := r.q.SelectContext(ctx, &result, listSQL, listArgs...); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// ListDispensableLots returns lots that may be dispensed, earliest expiry
// first. This order is the FEFO dispensing policy.
func (r *Repository) ListDispensableLots(ctx context.Context, medicamentoID string, today time.Time) ([]*Lot, error) {
	var result []*Lot
	query := `SELECT ` + lotColumns + ` FROM lotes
		WHERE medicamento_id = $1
		  AND activo = true
		  AND cantidad_disponible > 0
		  AND fecha_vencimiento >= $2
		  AND estado IN ('disponible', 'proximo_a_vencer')
		ORDER BY fecha_vencimiento ASC, numero_lote ASC`
	if err := r.q.SelectContext(ctx, &result, query, medicamentoID, today); err != nil {
		return nil, err
	}
	return result, nil
}

// ListActiveLots returns every active lot
func (r *Repository) ListActiveLots(ctx context.Context) ([]*Lot, error) {
	var result []*Lot
	query := `SELECT ` + lotColumns + ` FROM lotes WHERE activo = true ORDER BY medicamento_id, fecha_vencimiento`
	if err := r.q.SelectContext(ctx, &result, query); err != nil {
		return nil, err
	}
	return result, nil
}

const updateLotQuery = `
	UPDATE lotes SET
		cantidad_disponible = $2, ubicacion_fisica = $3, estado = $4, observaciones = $5
	WHERE id = $1 AND activo = true
	RETURNING updated_at`

// UpdateLot writes a lot's mutable fields
func (r *Repository) UpdateLot(ctx context.Context, lot *Lot) error {
	err := r.q.QueryRowxContext(ctx, updateLotQuery,
		lot.ID, lot.CantidadDisponible, lot.UbicacionFisica, lot.Estado, lot.Observaciones,
	).Scan(&lot.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("lot")
	}
	return database.MapError(err)
}

// UpdateLotState writes only the derived state
func (r *Repository) UpdateLotState(ctx context.Context, id string, estado domain.LotState) error {
	result, err := r.q.ExecContext(ctx, `UPDATE lotes SET estado = $2 WHERE id = $1`, id, estado)
	if err != nil {
		return database.MapError(err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// DeleteLot soft deletes a lot
func (r *Repository) DeleteLot(ctx context.Context, id string) error {
	return lots.Delete(ctx, r.q, id)
}

// RestoreLot reverses DeleteLot
func (r *Repository) RestoreLot(ctx context.Context, id string) error {
	return lots.Restore(ctx, r.q, id)
}

// Alerts

const expiryAlertColumns = `l.id, l.medicamento_id, m.nombre_generico, l.numero_lote,
	l.fecha_vencimiento, l.cantidad_disponible, l.ubicacion_fisica`

// NearExpiryLots returns lots with stock expiring within [from, until]
func (r *Repository) NearExpiryLots(ctx context.Context, from, until time.Time) ([]*LotWithMedication, error) {
	var result []*LotWithMedication
	query := `SELECT ` + expiryAlertColumns + `
		FROM lotes l JOIN medicamentos m ON m.id = l.medicamento_id
		WHERE ` + database.OnlyActive.Clause("l") + `
		  AND l.cantidad_disponible > 0
		  AND l.fecha_vencimiento >= $1
		  AND l.fecha_vencimiento <= $2
		ORDER BY l.fecha_vencimiento ASC`
	if err := r.q.SelectContext(ctx, &result, query, from, until); err != nil {
		return nil, err
	}
	return result, nil
}

// ExpiredLots returns lots past expiry that still hold stock
func (r *Repository) ExpiredLots(ctx context.Context, today time.Time) ([]*LotWithMedication, error) {
	var result []*LotWithMedication
	query := `SELECT ` + expiryAlertColumns + `
		FROM lotes l JOIN medicamentos m ON m.id = l.medicamento_id
		WHERE ` + database.OnlyActive.Clause("l") + `
		  AND l.cantidad_disponible > 0
		  AND l.fecha_vencimiento < $1
		ORDER BY l.fecha_vencimiento ASC`
	if err := r.q.SelectContext(ctx, &result, query, today); err != nil {
		return nil, err
	}
	return result, nil
}

const averageCostQuery = `
	SELECT SUM(costo_unitario * cantidad_disponible) / NULLIF(SUM(cantidad_disponible), 0)
	FROM lotes
	WHERE medicamento_id = $1 AND activo = true AND cantidad_disponible > 0 AND costo_unitario IS NOT NULL`

// AverageUnitCost returns the quantity-weighted unit cost, or nil when no lot
// with stock carries a cost.
func (r *Repository) AverageUnitCost(ctx context.Context, medicamentoID string) (*float64, error) {
	var avg sql.NullFloat64
	if err := r.q.GetContext(ctx, &avg, averageCostQuery, medicamentoID); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// Enqueue writes an integration event in the current transaction
func (r *Repository) Enqueue(ctx context.Context, msg outbox.Message) error {
	_, err := outbox.Enqueue(ctx, r.q, msg)
	return err
}
