package domain

import "fmt"

// Severity grades an alert
type Severity string

const (
	SeverityCritical Severity = "critica"
	SeverityWarning  Severity = "advertencia"
	SeverityInfo     Severity = "info"
)

const (
	// CriticalStockThreshold is the default stock below which a medication alerts
	CriticalStockThreshold = 10
	// NearExpiryCriticalDays escalates a near-expiry alert to critica
	NearExpiryCriticalDays = 15
)

// NearExpirySeverity grades a lot by the days left before it expires
func NearExpirySeverity(daysLeft int) Severity {
	if daysLeft <= NearExpiryCriticalDays {
		return SeverityCritical
	}
	return SeverityWarning
}

// AvailabilityStatus is the outcome of a prescription stock check
type AvailabilityStatus string

const (
	AvailabilityNotFound     AvailabilityStatus = "no_encontrado"
	AvailabilityDepleted     AvailabilityStatus = "agotado"
	AvailabilityInsufficient AvailabilityStatus = "insuficiente"
	AvailabilityLow          AvailabilityStatus = "bajo"
	AvailabilityOK           AvailabilityStatus = "disponible"
)

// Availability answers whether a prescription quantity can be filled
type Availability struct {
	Estado          AvailabilityStatus `json:"estado"`
	Disponible      bool               `json:"disponible"`
	Severidad       Severity           `json:"severidad"`
	Mensaje         string             `json:"mensaje"`
	StockDisponible int                `json:"stock_disponible"`
	Solicitada      int                `json:"cantidad_solicitada"`
}

// Blocks reports whether the prescription must be refused
func (a Availability) Blocks() bool {
	return !a.Disponible
}

// ClassifyAvailability grades a request for requested units of a medication
// with available dispensable units. name is used in the message.
func ClassifyAvailability(found bool, name string, available, requested int) Availability {
	a := Availability{StockDisponible: available, Solicitada: requested}

	switch {
	case !found:
		a.Estado, a.Severidad = AvailabilityNotFound, SeverityCritical
		a.StockDisponible = 0
		a.Mensaje = "Medicamento no encontrado"
	case available <= 0:
		a.Estado, a.Severidad = AvailabilityDepleted, SeverityCritical
		a.Mensaje = fmt.Sprintf("%s está AGOTADO. No se puede prescribir.", name)
	case available < requested:
		a.Estado, a.Severidad = AvailabilityInsufficient, SeverityCritical
		a.Mensaje = fmt.Sprintf("%s: Stock insuficiente. Requerido: %d, Disponible: %d", name, requested, available)
	case available < requested*2:
		a.Estado, a.Severidad, a.Disponible = AvailabilityLow, SeverityWarning, true
		a.Mensaje = fmt.Sprintf("%s: Stock bajo. Disponible: %d, después quedarán: %d", name, available, available-requested)
	default:
		a.Estado, a.Severidad, a.Disponible = AvailabilityOK, SeverityInfo, true
		a.Mensaje = fmt.Sprintf("%s: Disponible (%d unidades)", name, available)
	}
	return a
}
