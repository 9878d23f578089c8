package audit

import (
	"context"
	"encoding/json"

	"github.com/clinicaec/hospital-backend/pkg/actor"
	"github.com/clinicaec/hospital-backend/pkg/logger"
)

// Store persists entries. *Repository satisfies it.
type Store interface {
	Create(ctx context.Context, entry *Entry) error
}

// Record describes one audited operation
type Record struct {
	Action      Action
	Module      string
	Description string
	Table       string
	RecordID    string
	Before      interface{}
	After       interface{}
	// Err is the operation's error; a non-nil value records a failure.
	Err error
}

// Recorder writes audit entries on behalf of services. Failures to write are
// logged and never returned to the caller.
type Recorder struct {
	store  Store
	logger *logger.Logger
}

// NewRecorder creates a recorder. A nil store makes every call a no-op.
func NewRecorder(store Store, log *logger.Logger) *Recorder {
	return &Recorder{store: store, logger: log}
}

// Record writes rec attributed to the actor in ctx
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || r.store == nil {
		return
	}

	a := actor.OrSystem(ctx)
	entry := &Entry{
		UsuarioID:     &a.ID,
		UsuarioNombre: &a.Name,
		UsuarioCargo:  &a.Role,
		Accion:        rec.Action,
		Modulo:        rec.Module,
		Descripcion:   rec.Description,
		TablaAfectada: rec.Table,
		Estado:        OutcomeSuccess,
	}
	if rec.RecordID != "" {
		entry.RegistroID = &rec.RecordID
	}
	if rec.Err != nil {
		entry.Estado = OutcomeFailure
		entry.Descripcion = rec.Description + ": " + rec.Err.Error()
	}
	entry.DatosAnteriores = r.snapshot(rec.Before)
	entry.DatosNuevos = r.snapshot(rec.After)

	if err := r.store.Create(ctx, entry); err != nil {
		r.logger.Error().
			Err(err).
			Str("tabla", rec.Table).
			Str("registro_id", rec.RecordID).
			Str("accion", string(rec.Action)).
			Msg("failed to write audit entry")
	}
}

func (r *Recorder) snapshot(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to marshal audit snapshot")
		return nil
	}
	return b
}
