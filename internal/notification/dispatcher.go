package notification

import (
	"context"
	"fmt"

	directory "github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
)

// Directory resolves notification recipients
type Directory interface {
	GetPatient(ctx context.Context, id string) (*directory.Patient, error)
	GetPhysician(ctx context.Context, id string) (*directory.Employee, error)
}

// Registrar is the part of messaging.Consumer the dispatcher binds to
type Registrar interface {
	RegisterHandler(eventType string, handler messaging.MessageHandler) error
}

// Dispatcher renders appointment and stock events into notifications.
// Returning an error makes the consumer requeue the delivery, so only
// transient failures are returned; missing recipients are logged and acked.
type Dispatcher struct {
	notifier          Notifier
	directory         Directory
	pharmacyRecipient string
	logger            *logger.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(notifier Notifier, dir Directory, pharmacyRecipient string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:          notifier,
		directory:         dir,
		pharmacyRecipient: pharmacyRecipient,
		logger:            log.WithComponent("notification-dispatcher"),
	}
}

// Register binds the dispatcher to every event type it handles. It fails
// when the consumer's queue is not bound to one of them.
func (d *Dispatcher) Register(r Registrar) error {
	handlers := []struct {
		eventType string
		handle    messaging.MessageHandler
	}{
		{messaging.EventAppointmentCreated, d.HandleAppointment},
		{messaging.EventAppointmentUpdated, d.HandleAppointment},
		{messaging.EventAppointmentCancelled, d.HandleAppointment},
		{messaging.EventAppointmentRescheduled, d.HandleAppointment},
		{messaging.EventStockDepleted, d.HandleStockDepleted},
	}
	for _, h := range handlers {
		if err := r.RegisterHandler(h.eventType, h.handle); err != nil {
			return err
		}
	}
	return nil
}

// HandleAppointment notifies the patient of an appointment change
func (d *Dispatcher) HandleAppointment(ctx context.Context, event *messaging.Event) error {
	var data messaging.AppointmentEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode appointment event: %w", err)
	}

	log := d.logger.With().
		Str("cita_id", data.CitaID).
		Str("template", data.Template).
		Logger()

	patient, err := d.directory.GetPatient(ctx, data.PacienteID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			log.Warn().Str("paciente_id", data.PacienteID).Msg("patient not found, notification skipped")
			return nil
		}
		return err
	}
	if patient.Email == nil || *patient.Email == "" {
		log.Info().Str("paciente_id", data.PacienteID).Msg("patient has no email, notification skipped")
		return nil
	}

	subject, body, err := renderAppointment(data.Template, appointmentView{
		Event:     data,
		Patient:   patient.FullName(),
		Physician: d.physicianName(ctx, data.MedicoID),
	})
	if err != nil {
		log.Warn().Err(err).Msg("unrenderable appointment event dropped")
		return nil
	}

	return d.notifier.Send(ctx, Notification{
		Template:  data.Template,
		Recipient: *patient.Email,
		Subject:   subject,
		Body:      body,
		Reference: data.CitaID,
	})
}

// HandleStockDepleted alerts the pharmacy that a medication ran out
func (d *Dispatcher) HandleStockDepleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.StockDepletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode stock depleted event: %w", err)
	}

	subject, body := renderStockDepleted(data)
	return d.notifier.Send(ctx, Notification{
		Template:  messaging.TemplateStockAgotado,
		Recipient: d.pharmacyRecipient,
		Subject:   subject,
		Body:      body,
		Reference: data.MedicamentoID,
	})
}

func (d *Dispatcher) physicianName(ctx context.Context, id *string) string {
	if id == nil {
		return unassignedPhysician
	}
	physician, err := d.directory.GetPhysician(ctx, *id)
	if err != nil {
		d.logger.Warn().Err(err).Str("medico_id", *id).Msg("physician lookup failed")
		return unassignedPhysician
	}
	return physician.FullName()
}
