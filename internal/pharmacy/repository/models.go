package repository

import (
	"time"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/domain"
)

// Medication is a catalogue entry. Stock is derived from its lots.
type Medication struct {
	ID                string     `db:"id" json:"id"`
	NombreGenerico    string     `db:"nombre_generico" json:"nombre_generico"`
	NombreComercial   *string    `db:"nombre_comercial" json:"nombre_comercial,omitempty"`
	Concentracion     *string    `db:"concentracion" json:"concentracion,omitempty"`
	FormaFarmaceutica *string    `db:"forma_farmaceutica" json:"forma_farmaceutica,omitempty"`
	Stock             int        `db:"stock" json:"stock"`
	Activo            bool       `db:"activo" json:"activo"`
	FechaEliminacion  *time.Time `db:"fecha_eliminacion" json:"fecha_eliminacion,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Lot is a received batch of one medication
type Lot struct {
	ID                 string          `db:"id" json:"id"`
	MedicamentoID      string          `db:"medicamento_id" json:"medicamento_id"`
	NumeroLote         string          `db:"numero_lote" json:"numero_lote"`
	FechaIngreso       time.Time       `db:"fecha_ingreso" json:"fecha_ingreso"`
	FechaVencimiento   time.Time       `db:"fecha_vencimiento" json:"fecha_vencimiento"`
	CantidadInicial    int             `db:"cantidad_inicial" json:"cantidad_inicial"`
	CantidadDisponible int             `db:"cantidad_disponible" json:"cantidad_disponible"`
	UbicacionFisica    *string         `db:"ubicacion_fisica" json:"ubicacion_fisica,omitempty"`
	Proveedor          *string         `db:"proveedor" json:"proveedor,omitempty"`
	NumeroFactura      *string         `db:"numero_factura" json:"numero_factura,omitempty"`
	CostoUnitario      *float64        `db:"costo_unitario" json:"costo_unitario,omitempty"`
	Estado             domain.LotState `db:"estado" json:"estado"`
	Observaciones      *string         `db:"observaciones" json:"observaciones,omitempty"`
	Activo             bool            `db:"activo" json:"activo"`
	FechaEliminacion   *time.Time      `db:"fecha_eliminacion" json:"fecha_eliminacion,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// LotFilter narrows ListLots. Zero values mean no filter.
type LotFilter struct {
	MedicamentoID string
	Estado        domain.LotState
	Page          int
	PerPage       int
}

// Normalize clamps paging to sane bounds
func (f *LotFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
}

// LotWithMedication is a lot row joined with its medication name, used by
// the expiry alerts.
type LotWithMedication struct {
	ID                 string    `db:"id"`
	MedicamentoID      string    `db:"medicamento_id"`
	NombreGenerico     string    `db:"nombre_generico"`
	NumeroLote         string    `db:"numero_lote"`
	FechaVencimiento   time.Time `db:"fecha_vencimiento"`
	CantidadDisponible int       `db:"cantidad_disponible"`
	UbicacionFisica    *string   `db:"ubicacion_fisica"`
}
