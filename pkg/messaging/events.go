package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exchange names
const (
	ExchangePharmacyEvents   = "pharmacy.events"
	ExchangeSchedulingEvents = "scheduling.events"
)

// Event types
const (
	// Pharmacy events
	EventLotCreated          = "pharmacy.lot.created"
	EventLotDeleted          = "pharmacy.lot.deleted"
	EventStockDepleted       = "pharmacy.stock.depleted"
	EventLotStatesRecomputed = "pharmacy.lots.recomputed"

	// Scheduling events
	EventAppointmentCreated     = "scheduling.appointment.created"
	EventAppointmentUpdated     = "scheduling.appointment.updated"
	EventAppointmentCancelled   = "scheduling.appointment.cancelled"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled"
)

// Notification templates selected by the producing service.
const (
	TemplateCitaCreada       = "cita_creada"
	TemplateCitaActualizada  = "cita_actualizada"
	TemplateCitaCancelada    = "cita_cancelada"
	TemplateCitaReprogramada = "cita_reprogramada"
	TemplateStockAgotado     = "stock_agotado"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Scheduling Events

// AppointmentEvent is published for every appointment mutation. Template
// names the notification the worker should send.
type AppointmentEvent struct {
	CitaID            string  `json:"cita_id"`
	PacienteID        string  `json:"paciente_id"`
	MedicoID          *string `json:"medico_id,omitempty"`
	Fecha             string  `json:"fecha"`
	HoraInicio        *string `json:"hora_inicio,omitempty"`
	HoraFin           *string `json:"hora_fin,omitempty"`
	Estado            string  `json:"estado"`
	Consultorio       *string `json:"consultorio,omitempty"`
	MotivoCancelacion *string `json:"motivo_cancelacion,omitempty"`
	FechaAnterior     *string `json:"fecha_anterior,omitempty"`
	Template          string  `json:"template"`
}

// Pharmacy Events

// LotEvent is published when a lot is created or deleted
type LotEvent struct {
	LoteID           string `json:"lote_id"`
	MedicamentoID    string `json:"medicamento_id"`
	NumeroLote       string `json:"numero_lote"`
	FechaVencimiento string `json:"fecha_vencimiento"`
	Cantidad         int    `json:"cantidad"`
	Estado           string `json:"estado"`
}

// StockDepletedEvent is published when a medication's stock rolls up to zero
type StockDepletedEvent struct {
	MedicamentoID  string `json:"medicamento_id"`
	NombreGenerico string `json:"nombre_generico"`
	Template       string `json:"template"`
}

// LotStatesRecomputedEvent summarises a recompute pass
type LotStatesRecomputedEvent struct {
	Evaluated   int `json:"evaluated"`
	Changed     int `json:"changed"`
	Medications int `json:"medications"`
}
