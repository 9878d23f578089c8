package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/messaging"
)

const unassignedPhysician = "Por asignar"

var subjects = map[string]string{
	messaging.TemplateCitaCreada:       "Su cita médica ha sido confirmada",
	messaging.TemplateCitaActualizada:  "Su cita médica ha sido actualizada",
	messaging.TemplateCitaCancelada:    "Notificación: cita médica cancelada",
	messaging.TemplateCitaReprogramada: "Importante: cita médica reprogramada",
	messaging.TemplateStockAgotado:     "Alerta de farmacia: medicamento agotado",
}

// appointmentView is what the appointment templates render
type appointmentView struct {
	Event     messaging.AppointmentEvent
	Patient   string
	Physician string
}

func formatDate(fecha string) string {
	t, err := time.Parse(time.DateOnly, fecha)
	if err != nil {
		return fecha
	}
	return t.Format("02/01/2006")
}

func formatSlot(e messaging.AppointmentEvent) string {
	s := formatDate(e.Fecha)
	if e.HoraInicio != nil && len(*e.HoraInicio) >= 5 {
		s += " a las " + (*e.HoraInicio)[:5]
	}
	return s
}

func renderAppointment(template string, v appointmentView) (subject, body string, err error) {
	subject, ok := subjects[template]
	if !ok || template == messaging.TemplateStockAgotado {
		return "", "", fmt.Errorf("unknown appointment template %q", template)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Estimado/a %s,\n\n", v.Patient)

	switch template {
	case messaging.TemplateCitaCreada:
		fmt.Fprintf(&b, "Su cita ha sido agendada para el %s.\n", formatSlot(v.Event))
	case messaging.TemplateCitaActualizada:
		fmt.Fprintf(&b, "Los datos de su cita del %s han cambiado. Estado actual: %s.\n", formatSlot(v.Event), v.Event.Estado)
	case messaging.TemplateCitaCancelada:
		fmt.Fprintf(&b, "Su cita del %s ha sido cancelada.\n", formatSlot(v.Event))
		reason := "No especificado"
		if v.Event.MotivoCancelacion != nil {
			reason = *v.Event.MotivoCancelacion
		}
		fmt.Fprintf(&b, "Motivo: %s\n", reason)
	case messaging.TemplateCitaReprogramada:
		if v.Event.FechaAnterior != nil {
			fmt.Fprintf(&b, "Su cita del %s ha sido reprogramada.\n", formatDate(*v.Event.FechaAnterior))
		} else {
			b.WriteString("Su cita ha sido reprogramada.\n")
		}
		fmt.Fprintf(&b, "Nueva fecha: %s.\n", formatSlot(v.Event))
	}

	if template != messaging.TemplateCitaCancelada {
		fmt.Fprintf(&b, "Médico: %s\n", v.Physician)
		if v.Event.Consultorio != nil {
			fmt.Fprintf(&b, "Consultorio: %s\n", *v.Event.Consultorio)
		}
	}
	fmt.Fprintf(&b, "\nReferencia de cita: %s\n", v.Event.CitaID)

	return subject, b.String(), nil
}

func renderStockDepleted(e messaging.StockDepletedEvent) (subject, body string) {
	body = fmt.Sprintf("%s: AGOTADO - No disponible para prescripción.\nMedicamento: %s\n",
		e.NombreGenerico, e.MedicamentoID)
	return subjects[messaging.TemplateStockAgotado], body
}
