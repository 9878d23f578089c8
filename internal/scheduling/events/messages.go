// Package events builds the outbox messages the scheduling service emits.
package events

import (
	"time"

	"github.com/clinicaec/hospital-backend/internal/scheduling/repository"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
)

const aggregateAppointment = "cita"

// eventTypes maps each notification template to the event that carries it
var eventTypes = map[string]string{
	messaging.TemplateCitaCreada:       messaging.EventAppointmentCreated,
	messaging.TemplateCitaActualizada:  messaging.EventAppointmentUpdated,
	messaging.TemplateCitaCancelada:    messaging.EventAppointmentCancelled,
	messaging.TemplateCitaReprogramada: messaging.EventAppointmentRescheduled,
}

// Appointment builds the event for an appointment change. previous is the
// appointment before the change and is nil on creation.
func Appointment(template string, appt, previous *repository.Appointment) outbox.Message {
	payload := messaging.AppointmentEvent{
		CitaID:            appt.ID,
		PacienteID:        appt.PacienteID,
		MedicoID:          appt.MedicoID,
		Fecha:             appt.Fecha.Format(time.DateOnly),
		HoraInicio:        appt.HoraInicio,
		HoraFin:           appt.HoraFin,
		Estado:            string(appt.Estado),
		Consultorio:       appt.Consultorio,
		MotivoCancelacion: appt.MotivoCancelacion,
		Template:          template,
	}
	if previous != nil && !previous.Fecha.Equal(appt.Fecha) {
		before := previous.Fecha.Format(time.DateOnly)
		payload.FechaAnterior = &before
	}

	eventType, ok := eventTypes[template]
	if !ok {
		eventType = messaging.EventAppointmentUpdated
	}
	return outbox.Message{
		Aggregate:   aggregateAppointment,
		AggregateID: appt.ID,
		EventType:   eventType,
		Exchange:    messaging.ExchangeSchedulingEvents,
		Payload:     payload,
	}
}
