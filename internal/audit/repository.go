// Package audit writes the append-only audit trail of mutating operations.
package audit

import (
	"context"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/google/uuid"
)

// Action is the kind of change recorded
type Action string

const (
	ActionCreate  Action = "CREAR"
	ActionUpdate  Action = "ACTUALIZAR"
	ActionDelete  Action = "ELIMINAR"
	ActionRestore Action = "RESTAURAR"
)

// Outcome records whether the audited operation succeeded
type Outcome string

const (
	OutcomeSuccess Outcome = "exitoso"
	OutcomeFailure Outcome = "fallido"
)

// Entry is one audit row. Entries are never updated or deleted.
type Entry struct {
	ID              string    `db:"id" json:"id"`
	UsuarioID       *string   `db:"usuario_id" json:"usuario_id,omitempty"`
	UsuarioNombre   *string   `db:"usuario_nombre" json:"usuario_nombre,omitempty"`
	UsuarioCargo    *string   `db:"usuario_cargo" json:"usuario_cargo,omitempty"`
	Accion          Action    `db:"accion" json:"accion"`
	Modulo          string    `db:"modulo" json:"modulo"`
	Descripcion     string    `db:"descripcion" json:"descripcion"`
	TablaAfectada   string    `db:"tabla_afectada" json:"tabla_afectada"`
	RegistroID      *string   `db:"registro_id" json:"registro_id,omitempty"`
	DatosAnteriores []byte    `db:"datos_anteriores" json:"datos_anteriores,omitempty"`
	DatosNuevos     []byte    `db:"datos_nuevos" json:"datos_nuevos,omitempty"`
	Estado          Outcome   `db:"estado" json:"estado"`
	FechaHora       time.Time `db:"fecha_hora" json:"fecha_hora"`
}

const insertQuery = `
	INSERT INTO auditoria (
		id, usuario_id, usuario_nombre, usuario_cargo, accion, modulo, descripcion,
		tabla_afectada, registro_id, datos_anteriores, datos_nuevos, estado
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING fecha_hora`

const listByRecordQuery = `
	SELECT * FROM auditoria
	WHERE tabla_afectada = $1 AND registro_id = $2
	ORDER BY fecha_hora DESC`

// Repository handles audit trail persistence.
// All operations are append-only: no UPDATE or DELETE is permitted.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new audit repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create appends an entry
func (r *Repository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Estado == "" {
		entry.Estado = OutcomeSuccess
	}

	return r.db.QueryRowxContext(ctx, insertQuery,
		entry.ID, entry.UsuarioID, entry.UsuarioNombre, entry.UsuarioCargo,
		entry.Accion, entry.Modulo, entry.Descripcion, entry.TablaAfectada,
		entry.RegistroID, nullJSON(entry.DatosAnteriores), nullJSON(entry.DatosNuevos), entry.Estado,
	).Scan(&entry.FechaHora)
}

// ListByRecord lists entries for one row of a table, newest first
func (r *Repository) ListByRecord(ctx context.Context, table, recordID string) ([]*Entry, error) {
	var entries []*Entry
	if err := r.db.SelectContext(ctx, &entries, listByRecordQuery, table, recordID); err != nil {
		return nil, err
	}
	return entries, nil
}

// nullJSON keeps empty snapshots as SQL NULL instead of invalid JSONB
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
