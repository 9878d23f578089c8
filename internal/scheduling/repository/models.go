package repository

import (
	"time"

	"github.com/clinicaec/hospital-backend/internal/scheduling/domain"
)

// Appointment is a booked consultation. HoraInicio and HoraFin hold HH:MM:SS
// strings as the TIME columns render them.
type Appointment struct {
	ID                string        `db:"id" json:"id"`
	PacienteID        string        `db:"paciente_id" json:"paciente_id"`
	MedicoID          *string       `db:"medico_id" json:"medico_id,omitempty"`
	Fecha             time.Time     `db:"fecha" json:"fecha"`
	HoraInicio        *string       `db:"hora_inicio" json:"hora_inicio,omitempty"`
	HoraFin           *string       `db:"hora_fin" json:"hora_fin,omitempty"`
	Motivo            *string       `db:"motivo" json:"motivo,omitempty"`
	Consultorio       *string       `db:"consultorio" json:"consultorio,omitempty"`
	TipoCita          domain.Kind   `db:"tipo_cita" json:"tipo_cita"`
	Estado            domain.Status `db:"estado" json:"estado"`
	MotivoCancelacion *string       `db:"motivo_cancelacion" json:"motivo_cancelacion,omitempty"`
	Activo            bool          `db:"activo" json:"activo"`
	FechaEliminacion  *time.Time    `db:"fecha_eliminacion" json:"fecha_eliminacion,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Times parses the appointment's start and end
func (a *Appointment) Times() (start, end *domain.TimeOfDay, err error) {
	if start, err = domain.ParseOptional("hora_inicio", a.HoraInicio); err != nil {
		return nil, nil, err
	}
	if end, err = domain.ParseOptional("hora_fin", a.HoraFin); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// AppointmentFilter narrows ListByDate
type AppointmentFilter struct {
	Fecha    time.Time
	MedicoID string
	Estado   domain.Status
}

// PhysicianBlock is an occupied block attributed to its physician
type PhysicianBlock struct {
	MedicoID   string `db:"medico_id"`
	CitaID     string `db:"id"`
	HoraInicio string `db:"hora_inicio"`
	HoraFin    string `db:"hora_fin"`
}

// Block converts the row to a domain block
func (b PhysicianBlock) Block() (domain.Block, error) {
	start, err := domain.ParseTimeOfDay(b.HoraInicio)
	if err != nil {
		return domain.Block{}, err
	}
	end, err := domain.ParseTimeOfDay(b.HoraFin)
	if err != nil {
		return domain.Block{}, err
	}
	return domain.Block{Inicio: start, Fin: end, CitaID: b.CitaID}, nil
}
