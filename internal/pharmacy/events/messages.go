// Package events builds the outbox messages the pharmacy service emits.
package events

import (
	"time"

	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
)

const (
	aggregateLot        = "lote"
	aggregateMedication = "medicamento"
)

// LotCreated announces a received lot
func LotCreated(lot *repository.Lot) outbox.Message {
	return lotMessage(messaging.EventLotCreated, lot)
}

// LotDeleted announces a soft-deleted lot
func LotDeleted(lot *repository.Lot) outbox.Message {
	return lotMessage(messaging.EventLotDeleted, lot)
}

func lotMessage(eventType string, lot *repository.Lot) outbox.Message {
	return outbox.Message{
		Aggregate:   aggregateLot,
		AggregateID: lot.ID,
		EventType:   eventType,
		Exchange:    messaging.ExchangePharmacyEvents,
		Payload: messaging.LotEvent{
			LoteID:           lot.ID,
			MedicamentoID:    lot.MedicamentoID,
			NumeroLote:       lot.NumeroLote,
			FechaVencimiento: lot.FechaVencimiento.Format(time.DateOnly),
			Cantidad:         lot.CantidadDisponible,
			Estado:           string(lot.Estado),
		},
	}
}

// StockDepleted asks the notification worker to send the stock_agotado notice
func StockDepleted(med *repository.Medication) outbox.Message {
	return outbox.Message{
		Aggregate:   aggregateMedication,
		AggregateID: med.ID,
		EventType:   messaging.EventStockDepleted,
		Exchange:    messaging.ExchangePharmacyEvents,
		Payload: messaging.StockDepletedEvent{
			MedicamentoID:  med.ID,
			NombreGenerico: med.NombreGenerico,
			Template:       messaging.TemplateStockAgotado,
		},
	}
}

// LotStatesRecomputed summarises a recompute run
func LotStatesRecomputed(evaluated, changed, medications int) outbox.Message {
	return outbox.Message{
		Aggregate:   aggregateLot,
		AggregateID: "recompute",
		EventType:   messaging.EventLotStatesRecomputed,
		Exchange:    messaging.ExchangePharmacyEvents,
		Payload: messaging.LotStatesRecomputedEvent{
			Evaluated:   evaluated,
			Changed:     changed,
			Medications: medications,
		},
	}
}
