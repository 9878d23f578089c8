package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	directory "github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/internal/scheduling/domain"
	"github.com/clinicaec/hospital-backend/internal/scheduling/events"
	"github.com/clinicaec/hospital-backend/internal/scheduling/repository"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
)

const (
	auditModule       = "Citas"
	appointmentsTable = "citas"
)

// Directory looks up the patients and physicians appointments refer to.
// *directory.Repository satisfies it.
type Directory interface {
	GetPatient(ctx context.Context, id string) (*directory.Patient, error)
	GetPhysician(ctx context.Context, id string) (*directory.Employee, error)
	ListPhysicians(ctx context.Context, especialidad string) ([]*directory.Employee, error)
}

// AppointmentService books and moves appointments. Every status change goes
// through domain.CheckTransition.
type AppointmentService struct {
	store     repository.Store
	directory Directory
	audit     *audit.Recorder
	clock     clock.Clock
	logger    *logger.Logger
}

// NewAppointmentService creates a new appointment service
func NewAppointmentService(store repository.Store, dir Directory, recorder *audit.Recorder, clk clock.Clock, log *logger.Logger) *AppointmentService {
	return &AppointmentService{
		store:     store,
		directory: dir,
		audit:     recorder,
		clock:     clk,
		logger:    log.WithComponent("appointment-service"),
	}
}

// CreateAppointmentInput is the body of a booking
type CreateAppointmentInput struct {
	PacienteID  string  `json:"paciente_id" validate:"required,uuid"`
	MedicoID    *string `json:"medico_id" validate:"omitempty,uuid"`
	Fecha       string  `json:"fecha" validate:"required,date"`
	HoraInicio  *string `json:"hora_inicio" validate:"omitempty,hhmm"`
	HoraFin     *string `json:"hora_fin" validate:"omitempty,hhmm"`
	Motivo      *string `json:"motivo"`
	Consultorio *string `json:"consultorio" validate:"omitempty,max=50"`
	TipoCita    string  `json:"tipo_cita" validate:"omitempty,oneof=consulta seguimiento emergencia"`
}

// UpdateAppointmentInput carries the fields of a partial update. Only
// non-nil fields are applied.
type UpdateAppointmentInput struct {
	MedicoID          *string        `json:"medico_id" validate:"omitempty,uuid"`
	Fecha             *string        `json:"fecha" validate:"omitempty,date"`
	HoraInicio        *string        `json:"hora_inicio" validate:"omitempty,hhmm"`
	HoraFin           *string        `json:"hora_fin" validate:"omitempty,hhmm"`
	Motivo            *string        `json:"motivo"`
	Consultorio       *string        `json:"consultorio" validate:"omitempty,max=50"`
	TipoCita          *domain.Kind   `json:"tipo_cita" validate:"omitempty,oneof=consulta seguimiento emergencia"`
	Estado            *domain.Status `json:"estado" validate:"omitempty,oneof=programada confirmada en_espera en_consulta completada cancelada no_asistio"`
	MotivoCancelacion *string        `json:"motivo_cancelacion"`
}

// RescheduleInput moves an appointment to a new date and, optionally, time
type RescheduleInput struct {
	Fecha      string  `json:"fecha" validate:"required,date"`
	HoraInicio *string `json:"hora_inicio" validate:"omitempty,hhmm"`
	HoraFin    *string `json:"hora_fin" validate:"omitempty,hhmm"`
}

// PhysicianAvailability lists a physician's occupied blocks on one date
type PhysicianAvailability struct {
	MedicoID     string         `json:"medico_id"`
	Nombre       string         `json:"nombre"`
	Especialidad *string        `json:"especialidad,omitempty"`
	Ocupados     []domain.Block `json:"bloques_ocupados"`
	TotalCitas   int            `json:"total_citas"`
}

// change describes one kind of appointment mutation for apply
type change struct {
	description string
	// template forces the notification; otherwise it is inferred
	template string
	// reopen lets a missed appointment return to programada
	reopen bool
	// before runs on the locked appointment ahead of the merge and may
	// adjust the input
	before func(current *repository.Appointment, in *UpdateAppointmentInput) error
	// after runs on the merged appointment ahead of the write
	after func(ctx context.Context, tx repository.Store, next *repository.Appointment) error
}

func (s *AppointmentService) today() time.Time {
	return clock.Today(s.clock)
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errors.ValidationField(field, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

// normalizeTime parses an optional time and returns it in HH:MM:SS form
func normalizeTime(field string, s *string) (*string, *domain.TimeOfDay, error) {
	t, err := domain.ParseOptional(field, s)
	if err != nil || t == nil {
		return nil, nil, err
	}
	canonical := t.String()
	return &canonical, t, nil
}

func (s *AppointmentService) checkNotPast(fecha time.Time, start *domain.TimeOfDay) error {
	if domain.StartsInPast(fecha, start, s.clock.Now()) {
		return errors.ValidationField("fecha", "the appointment cannot start in the past")
	}
	return nil
}

func (s *AppointmentService) checkPatient(ctx context.Context, id string) error {
	if _, err := s.directory.GetPatient(ctx, id); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ReferenceNotFound("patient")
		}
		return err
	}
	return nil
}

func (s *AppointmentService) checkPhysician(ctx context.Context, id *string) error {
	if id == nil {
		return nil
	}
	if _, err := s.directory.GetPhysician(ctx, *id); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ReferenceNotFound("physician")
		}
		return err
	}
	return nil
}

// checkOverlap locks the physician's day and scans it for a block that
// collides with appt. Appointments without a physician or without both
// times never collide.
func (s *AppointmentService) checkOverlap(ctx context.Context, tx repository.Store, appt *repository.Appointment) error {
	start, end, err := appt.Times()
	if err != nil {
		return err
	}
	if appt.MedicoID == nil || start == nil || end == nil {
		return nil
	}

	if err := tx.LockPhysicianDay(ctx, *appt.MedicoID, appt.Fecha); err != nil {
		return err
	}
	blocks, err := tx.BusyBlocks(ctx, *appt.MedicoID, appt.Fecha)
	if err != nil {
		return err
	}
	if b, found := domain.FindConflict(blocks, *start, *end, appt.ID); found {
		return domain.ConflictError(b)
	}
	return nil
}

// explainConflict replaces a CONFLICT without details, as raised by the
// exclusion constraint, with one naming the colliding appointment. The
// lookup runs after the failed transaction has rolled back.
func (s *AppointmentService) explainConflict(ctx context.Context, appt *repository.Appointment, err error) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" || len(appErr.Details) > 0 {
		return err
	}
	start, end, terr := appt.Times()
	if terr != nil || appt.MedicoID == nil || start == nil || end == nil {
		return err
	}

	blocks, berr := s.store.BusyBlocks(ctx, *appt.MedicoID, appt.Fecha)
	if berr != nil {
		s.logger.Warn().Err(berr).Str("cita_id", appt.ID).Msg("could not resolve conflicting appointment")
		return err
	}
	if b, found := domain.FindConflict(blocks, *start, *end, appt.ID); found {
		return domain.ConflictError(b)
	}
	return err
}

func (in CreateAppointmentInput) toAppointment() (*repository.Appointment, *domain.TimeOfDay, error) {
	fecha, err := parseDate("fecha", in.Fecha)
	if err != nil {
		return nil, nil, err
	}
	startText, start, err := normalizeTime("hora_inicio", in.HoraInicio)
	if err != nil {
		return nil, nil, err
	}
	endText, end, err := normalizeTime("hora_fin", in.HoraFin)
	if err != nil {
		return nil, nil, err
	}
	if err := domain.CheckOrder(start, end); err != nil {
		return nil, nil, err
	}

	kind := domain.KindConsultation
	if in.TipoCita != "" {
		kind = domain.Kind(in.TipoCita)
		if !kind.Valid() {
			return nil, nil, errors.ValidationField("tipo_cita", "unknown appointment type")
		}
	}

	return &repository.Appointment{
		PacienteID:  in.PacienteID,
		MedicoID:    in.MedicoID,
		Fecha:       fecha,
		HoraInicio:  startText,
		HoraFin:     endText,
		Motivo:      in.Motivo,
		Consultorio: in.Consultorio,
		TipoCita:    kind,
		Estado:      domain.StatusScheduled,
	}, start, nil
}

// CreateAppointment books an appointment in programada
func (s *AppointmentService) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*repository.Appointment, error) {
	appt, start, err := in.toAppointment()
	if err != nil {
		return nil, err
	}
	if err := s.checkNotPast(appt.Fecha, start); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.checkPatient(ctx, appt.PacienteID); err != nil {
			return err
		}
		if err := s.checkPhysician(ctx, appt.MedicoID); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, tx, appt); err != nil {
			return err
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		return tx.Enqueue(ctx, events.Appointment(messaging.TemplateCitaCreada, appt, nil))
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionCreate,
		Module:      auditModule,
		Description: fmt.Sprintf("Registro de cita para el %s", appt.Fecha.Format(time.DateOnly)),
		Table:       appointmentsTable,
		RecordID:    appt.ID,
		After:       appt,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("cita_id", appt.ID).
		Str("paciente_id", appt.PacienteID).
		Str("fecha", appt.Fecha.Format(time.DateOnly)).
		Msg("appointment created")
	return appt, nil
}

// GetAppointment gets an active appointment by ID
func (s *AppointmentService) GetAppointment(ctx context.Context, id string) (*repository.Appointment, error) {
	return s.store.GetAppointment(ctx, id, database.OnlyActive)
}

// UpdateAppointment applies a partial update. It does not scan for
// overlaps; use RescheduleAppointment to move an appointment.
func (s *AppointmentService) UpdateAppointment(ctx context.Context, id string, in UpdateAppointmentInput) (*repository.Appointment, error) {
	return s.apply(ctx, id, in, change{description: "Actualizacion de cita"})
}

// CancelAppointment cancels an appointment that is not yet finished
func (s *AppointmentService) CancelAppointment(ctx context.Context, id, reason string) (*repository.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if err := domain.ValidateCancelReason(&reason); err != nil {
		return nil, err
	}

	cancelled := domain.StatusCancelled
	in := UpdateAppointmentInput{Estado: &cancelled, MotivoCancelacion: &reason}
	return s.apply(ctx, id, in, change{
		description: "Cancelacion de cita",
		template:    messaging.TemplateCitaCancelada,
		before: func(current *repository.Appointment, _ *UpdateAppointmentInput) error {
			if current.Estado.IsTerminal() {
				return errors.InvalidState(fmt.Sprintf("the appointment is already %s", current.Estado))
			}
			return nil
		},
	})
}

// RescheduleAppointment moves an appointment to a new date and time. The new
// block is checked for overlaps against the physician's other appointments.
// A missed appointment returns to programada.
func (s *AppointmentService) RescheduleAppointment(ctx context.Context, id string, in RescheduleInput) (*repository.Appointment, error) {
	if _, err := parseDate("fecha", in.Fecha); err != nil {
		return nil, err
	}

	update := UpdateAppointmentInput{Fecha: &in.Fecha, HoraInicio: in.HoraInicio, HoraFin: in.HoraFin}
	return s.apply(ctx, id, update, change{
		description: "Reprogramacion de cita",
		template:    messaging.TemplateCitaReprogramada,
		reopen:      true,
		before: func(current *repository.Appointment, pending *UpdateAppointmentInput) error {
			status, err := domain.Reopen(current.Estado)
			if err != nil {
				return err
			}
			if status != current.Estado {
				pending.Estado = &status
			}
			return nil
		},
		after: func(ctx context.Context, tx repository.Store, next *repository.Appointment) error {
			start, _, err := next.Times()
			if err != nil {
				return err
			}
			if err := s.checkNotPast(next.Fecha, start); err != nil {
				return err
			}
			return s.checkOverlap(ctx, tx, next)
		},
	})
}

// ValidateTodayAppointment checks in a patient for today's appointment. A
// programada appointment is confirmed.
func (s *AppointmentService) ValidateTodayAppointment(ctx context.Context, id string) (*repository.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id, database.OnlyActive)
	if err != nil {
		return nil, err
	}
	if !clock.DateOf(appt.Fecha).Equal(s.today()) {
		return nil, errors.ValidationField("fecha", "the appointment is not scheduled for today")
	}
	if appt.Estado.IsTerminal() {
		return nil, errors.InvalidState(fmt.Sprintf("the appointment is already %s", appt.Estado))
	}
	if appt.Estado != domain.StatusScheduled {
		return appt, nil
	}

	confirmed := domain.StatusConfirmed
	return s.apply(ctx, id, UpdateAppointmentInput{Estado: &confirmed}, change{
		description: "Confirmacion de cita del dia",
	})
}

// apply is the single write path for existing appointments
func (s *AppointmentService) apply(ctx context.Context, id string, in UpdateAppointmentInput, c change) (*repository.Appointment, error) {
	var before, after, pending *repository.Appointment
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		current, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		snapshot := *current
		before = &snapshot

		if c.before != nil {
			if err := c.before(before, &in); err != nil {
				return err
			}
		}
		next, err := merge(current, in, c.reopen)
		if err != nil {
			return err
		}
		pending = next
		if in.MedicoID != nil {
			if err := s.checkPhysician(ctx, next.MedicoID); err != nil {
				return err
			}
		}
		if c.after != nil {
			if err := c.after(ctx, tx, next); err != nil {
				return err
			}
		}

		if err := tx.UpdateAppointment(ctx, next); err != nil {
			return err
		}
		after = next

		template := c.template
		if template == "" {
			template = classify(before, next)
		}
		return tx.Enqueue(ctx, events.Appointment(template, next, before))
	})
	if err != nil && pending != nil {
		err = s.explainConflict(ctx, pending, err)
	}

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionUpdate,
		Module:      auditModule,
		Description: c.description,
		Table:       appointmentsTable,
		RecordID:    id,
		Before:      before,
		After:       after,
		Err:         err,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("cita_id", id).
		Str("estado_anterior", string(before.Estado)).
		Str("estado", string(after.Estado)).
		Str("operacion", c.description).
		Msg("appointment updated")
	return after, nil
}

// merge applies in to a copy of current and checks the result
func merge(current *repository.Appointment, in UpdateAppointmentInput, reopen bool) (*repository.Appointment, error) {
	next := *current

	if in.MedicoID != nil {
		next.MedicoID = in.MedicoID
	}
	if in.Fecha != nil {
		fecha, err := parseDate("fecha", *in.Fecha)
		if err != nil {
			return nil, err
		}
		next.Fecha = fecha
	}
	if in.HoraInicio != nil {
		text, _, err := normalizeTime("hora_inicio", in.HoraInicio)
		if err != nil {
			return nil, err
		}
		next.HoraInicio = text
	}
	if in.HoraFin != nil {
		text, _, err := normalizeTime("hora_fin", in.HoraFin)
		if err != nil {
			return nil, err
		}
		next.HoraFin = text
	}
	if current.Estado.IsTerminal() && movesSlot(current, &next) {
		return nil, errors.InvalidState(fmt.Sprintf("a %s appointment cannot be moved", current.Estado))
	}
	start, end, err := next.Times()
	if err != nil {
		return nil, err
	}
	if err := domain.CheckOrder(start, end); err != nil {
		return nil, err
	}

	if in.Motivo != nil {
		next.Motivo = in.Motivo
	}
	if in.Consultorio != nil {
		next.Consultorio = in.Consultorio
	}
	if in.TipoCita != nil {
		if !in.TipoCita.Valid() {
			return nil, errors.ValidationField("tipo_cita", "unknown appointment type")
		}
		next.TipoCita = *in.TipoCita
	}
	if in.MotivoCancelacion != nil {
		next.MotivoCancelacion = in.MotivoCancelacion
	}

	if in.Estado != nil && *in.Estado != current.Estado {
		reopening := reopen && current.Estado == domain.StatusNoShow && *in.Estado == domain.StatusScheduled
		if !reopening {
			if err := domain.CheckTransition(current.Estado, *in.Estado); err != nil {
				return nil, err
			}
		}
		next.Estado = *in.Estado
		if next.Estado == domain.StatusCancelled {
			if err := domain.ValidateCancelReason(next.MotivoCancelacion); err != nil {
				return nil, err
			}
		}
	}
	return &next, nil
}

// movesSlot reports whether next has a different date or time than current
func movesSlot(current, next *repository.Appointment) bool {
	return !current.Fecha.Equal(next.Fecha) ||
		!sameTime(current.HoraInicio, next.HoraInicio) ||
		!sameTime(current.HoraFin, next.HoraFin)
}

func sameTime(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// classify picks the notification for an update
func classify(before, after *repository.Appointment) string {
	switch {
	case after.Estado == domain.StatusCancelled && before.Estado != domain.StatusCancelled:
		return messaging.TemplateCitaCancelada
	case !before.Fecha.Equal(after.Fecha) && !before.Estado.IsTerminal():
		return messaging.TemplateCitaReprogramada
	default:
		return messaging.TemplateCitaActualizada
	}
}

// ListByDate lists a day's appointments by start time, untimed ones last
func (s *AppointmentService) ListByDate(ctx context.Context, fecha, medicoID string) ([]*repository.Appointment, error) {
	day, err := parseDate("fecha", fecha)
	if err != nil {
		return nil, err
	}
	return s.store.ListByDate(ctx, repository.AppointmentFilter{Fecha: day, MedicoID: medicoID})
}

// AvailabilityByPhysician reports, for each active physician, the blocks
// already booked on fecha.
func (s *AppointmentService) AvailabilityByPhysician(ctx context.Context, fecha, especialidad string) ([]PhysicianAvailability, error) {
	day, err := parseDate("fecha", fecha)
	if err != nil {
		return nil, err
	}

	physicians, err := s.directory.ListPhysicians(ctx, especialidad)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.BlocksByDate(ctx, day)
	if err != nil {
		return nil, err
	}

	occupied := make(map[string][]domain.Block)
	for _, row := range rows {
		b, err := row.Block()
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", row.CitaID, err)
		}
		occupied[row.MedicoID] = append(occupied[row.MedicoID], b)
	}

	result := make([]PhysicianAvailability, 0, len(physicians))
	for _, p := range physicians {
		blocks := occupied[p.ID]
		if blocks == nil {
			blocks = []domain.Block{}
		}
		result = append(result, PhysicianAvailability{
			MedicoID:     p.ID,
			Nombre:       p.FullName(),
			Especialidad: p.Especialidad,
			Ocupados:     blocks,
			TotalCitas:   len(blocks),
		})
	}
	return result, nil
}

// DeleteAppointment soft deletes an appointment, freeing its block
func (s *AppointmentService) DeleteAppointment(ctx context.Context, id string) error {
	var before *repository.Appointment
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		appt, err := tx.GetAppointment(ctx, id, database.OnlyActive)
		if err != nil {
			return err
		}
		before = appt
		return tx.DeleteAppointment(ctx, id)
	})

	s.audit.Record(ctx, audit.Record{
		Action:      audit.ActionDelete,
		Module:      auditModule,
		Description: "Eliminacion de cita",
		Table:       appointmentsTable,
		RecordID:    id,
		Before:      before,
		Err:         err,
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("cita_id", id).Msg("appointment deleted")
	return nil
}
