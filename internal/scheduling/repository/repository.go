package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/clinicaec/hospital-backend/internal/scheduling/domain"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is the persistence the appointment service depends on
type Store interface {
	// InTx runs fn inside a transaction, reusing one that is already open
	InTx(ctx context.Context, fn func(Store) error) error

	// LockPhysicianDay serialises bookings of one physician on one date
	// until the transaction ends.
	LockPhysicianDay(ctx context.Context, medicoID string, fecha time.Time) error
	BusyBlocks(ctx context.Context, medicoID string, fecha time.Time) ([]domain.Block, error)
	BlocksByDate(ctx context.Context, fecha time.Time) ([]PhysicianBlock, error)

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointment(ctx context.Context, id string, vis database.Visibility) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id string) (*Appointment, error)
	UpdateAppointment(ctx context.Context, appt *Appointment) error
	ListByDate(ctx context.Context, filter AppointmentFilter) ([]*Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error

	Enqueue(ctx context.Context, msg outbox.Message) error
}

var (
	dialect = goqu.Dialect("postgres")

	appointments = database.SoftDeletable{Table: "citas", Resource: "appointment"}
)

// TIME columns are read as text; lib/pq would otherwise decode them into a
// time.Time on year zero.
const appointmentColumns = `id, paciente_id, medico_id, fecha,
	hora_inicio::text AS hora_inicio, hora_fin::text AS hora_fin, motivo, consultorio,
	tipo_cita, estado, motivo_cancelacion, activo, fecha_eliminacion, created_at, updated_at`

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

const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`

// LockPhysicianDay takes a transaction-scoped advisory lock keyed by
// physician and date. Outside a transaction the lock would be released
// immediately, so it is refused.
func (r *Repository) LockPhysicianDay(ctx context.Context, medicoID string, fecha time.Time) error {
	if !r.tx {
		return fmt.Errorf("physician day lock requires a transaction")
	}
	_, err := r.q.ExecContext(ctx, lockQuery, medicoID, fecha.Format(time.DateOnly))
	return err
}

const busyBlocksQuery = `
	SELECT medico_id, id, hora_inicio::text AS hora_inicio, hora_fin::text AS hora_fin
	FROM citas
	WHERE fecha = $1
	  AND activo = true
	  AND estado IN ('programada', 'confirmada')
	  AND medico_id IS NOT NULL
	  AND hora_inicio IS NOT NULL
	  AND hora_fin IS NOT NULL`

// BusyBlocks returns the timed, non-terminal appointments of a physician on
// a date.
func (r *Repository) BusyBlocks(ctx context.Context, medicoID string, fecha time.Time) ([]domain.Block, error) {
	var rows []PhysicianBlock
	query := busyBlocksQuery + ` AND medico_id = $2 ORDER BY hora_inicio ASC`
	if err := r.q.SelectContext(ctx, &rows, query, fecha, medicoID); err != nil {
		return nil, err
	}

	blocks := make([]domain.Block, 0, len(rows))
	for _, row := range rows {
		b, err := row.Block()
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", row.CitaID, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// BlocksByDate returns every physician's occupied blocks on a date
func (r *Repository) BlocksByDate(ctx context.Context, fecha time.Time) ([]PhysicianBlock, error) {
	var rows []PhysicianBlock
	query := busyBlocksQuery + ` ORDER BY medico_id, hora_inicio ASC`
	if err := r.q.SelectContext(ctx, &rows, query, fecha); err != nil {
		return nil, err
	}
	return rows, nil
}

const insertAppointmentQuery = `
	INSERT INTO citas (
		id, paciente_id, medico_id, fecha, hora_inicio, hora_fin,
		motivo, consultorio, tipo_cita, estado
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING activo, created_at, updated_at`

// CreateAppointment inserts an appointment
func (r *Repository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.New().String()
	}

	err := r.q.QueryRowxContext(ctx, insertAppointmentQuery,
		appt.ID, appt.PacienteID, appt.MedicoID, appt.Fecha, appt.HoraInicio, appt.HoraFin,
		appt.Motivo, appt.Consultorio, appt.TipoCita, appt.Estado,
	).Scan(&appt.Activo, &appt.CreatedAt, &appt.UpdatedAt)
	return database.MapError(err)
}

// GetAppointment gets an appointment by ID
func (r *Repository) GetAppointment(ctx context.Context, id string, vis database.Visibility) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM citas WHERE id = $1 AND ` + vis.Clause("")
	return r.getAppointment(ctx, query, id)
}

// GetAppointmentForUpdate reads an active appointment and locks its row
func (r *Repository) GetAppointmentForUpdate(ctx context.Context, id string) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM citas WHERE id = $1 AND activo = true FOR UPDATE`
	return r.getAppointment(ctx, query, id)
}

func (r *Repository) getAppointment(ctx context.Context, query, id string) (*Appointment, error) {
	var appt Appointment
	if err := r.q.GetContext(ctx, &appt, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("appointment")
		}
		return nil, err
	}
	return &appt, nil
}

const updateAppointmentQuery = `
	UPDATE citas SET
		medico_id = $2, fecha = $3, hora_inicio = $4, hora_fin = $5, motivo = $6,
		consultorio = $7, tipo_cita = $8, estado = $9, motivo_cancelacion = $10
	WHERE id = $1 AND activo = true
	RETURNING updated_at`

// UpdateAppointment writes an appointment's mutable fields
func (r *Repository) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	err := r.q.QueryRowxContext(ctx, updateAppointmentQuery,
		appt.ID, appt.MedicoID, appt.Fecha, appt.HoraInicio, appt.HoraFin, appt.Motivo,
		appt.Consultorio, appt.TipoCita, appt.Estado, appt.MotivoCancelacion,
	).Scan(&appt.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("appointment")
	}
	return database.MapError(err)
}

// ListByDate lists a day's active appointments by start time. Appointments
// without a start time come last.
func (r *Repository) ListByDate(ctx context.Context, filter AppointmentFilter) ([]*Appointment, error) {
	ds := dialect.From("citas").Prepared(true).Where(
		goqu.C("activo").IsTrue(),
		goqu.C("fecha").Eq(filter.Fecha.Format(time.DateOnly)),
	)
	if filter.MedicoID != "" {
		ds = ds.Where(goqu.C("medico_id").Eq(filter.MedicoID))
	}
	if filter.Estado != "" {
		ds = ds.Where(goqu.C("estado").Eq(string(filter.Estado)))
	}

	query, args, err := ds.Select(goqu.L(appointmentColumns)).
		Order(goqu.C("hora_inicio").Asc().NullsLast(), goqu.C("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment list query: %w", err)
	}

	var result []*Appointment
	if err := r.q.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteAppointment soft deletes an appointment
func (r *Repository) DeleteAppointment(ctx context.Context, id string) error {
	return appointments.Delete(ctx, r.q, id)
}

// Enqueue writes an integration event in the current transaction
func (r *Repository) Enqueue(ctx context.Context, msg outbox.Message) error {
	_, err := outbox.Enqueue(ctx, r.q, msg)
	return err
}
