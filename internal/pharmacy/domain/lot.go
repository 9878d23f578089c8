// Package domain holds the pharmacy rules that do not touch storage: lot
// state derivation, alert classification and FEFO allocation.
package domain

import (
	"time"

	"github.com/clinicaec/hospital-backend/pkg/clock"
)

// LotState is the derived status of a lot
type LotState string

const (
	LotAvailable  LotState = "disponible"
	LotNearExpiry LotState = "proximo_a_vencer"
	LotExpired    LotState = "vencido"
	LotDepleted   LotState = "agotado"
)

// NearExpiryWindowDays is how close to expiry a lot becomes proximo_a_vencer
const NearExpiryWindowDays = 30

// DeriveLotState computes a lot's state from its quantity and expiry date.
// Precedence is agotado, vencido, proximo_a_vencer, disponible.
func DeriveLotState(quantity int, expiry, today time.Time) LotState {
	switch days := clock.DaysBetween(today, expiry); {
	case quantity <= 0:
		return LotDepleted
	case days < 0:
		return LotExpired
	case days <= NearExpiryWindowDays:
		return LotNearExpiry
	default:
		return LotAvailable
	}
}

// Valid reports whether s is a known state
func (s LotState) Valid() bool {
	switch s {
	case LotAvailable, LotNearExpiry, LotExpired, LotDepleted:
		return true
	}
	return false
}

// Dispensable reports whether lots in state s may be dispensed and count
// toward the medication's stock.
func (s LotState) Dispensable() bool {
	return s == LotAvailable || s == LotNearExpiry
}

// DispensableStates lists the states that count toward stock
func DispensableStates() []LotState {
	return []LotState{LotAvailable, LotNearExpiry}
}
