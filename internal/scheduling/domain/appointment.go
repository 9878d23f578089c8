// Package domain holds the appointment rules that do not touch storage: the
// status machine, time-of-day handling and overlap detection.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/errors"
)

// Status is an appointment's position in its lifecycle
type Status string

const (
	StatusScheduled  Status = "programada"
	StatusConfirmed  Status = "confirmada"
	StatusWaiting    Status = "en_espera"
	StatusInProgress Status = "en_consulta"
	StatusCompleted  Status = "completada"
	StatusCancelled  Status = "cancelada"
	StatusNoShow     Status = "no_asistio"
)

// Kind is the tipo_cita of an appointment
type Kind string

const (
	KindConsultation Kind = "consulta"
	KindFollowUp     Kind = "seguimiento"
	KindEmergency    Kind = "emergencia"
)

// MinCancelReasonLength is the shortest accepted cancellation reason, counted
// after trimming.
const MinCancelReasonLength = 10

// PastGrace is how far in the past an appointment may still start when it is
// created or rescheduled.
const PastGrace = time.Hour

// transitions lists the allowed status changes. Every non-terminal status
// may be cancelled. no_asistio only returns to programada through a
// reschedule, see Reopen.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusWaiting, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusWaiting, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusWaiting:    {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusNoShow:     {StatusCancelled},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusWaiting, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Blocking reports whether an appointment in status s occupies its time block
func (s Status) Blocking() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// BlockingStatuses lists the statuses that occupy a physician's time
func BlockingStatuses() []Status {
	return []Status{StatusScheduled, StatusConfirmed}
}

// CanTransition reports whether an update may move an appointment from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition as an INVALID_STATE error
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return errors.ValidationField("estado", "unknown state")
	}
	if !CanTransition(from, to) {
		return errors.InvalidState(fmt.Sprintf("an appointment cannot move from %s to %s", from, to))
	}
	return nil
}

// Reopen returns the status a rescheduled appointment takes. A missed
// appointment goes back to programada; other non-terminal statuses are kept.
func Reopen(from Status) (Status, error) {
	if from.IsTerminal() {
		return "", errors.InvalidState(fmt.Sprintf("a %s appointment cannot be rescheduled", from))
	}
	if from == StatusNoShow {
		return StatusScheduled, nil
	}
	return from, nil
}

// ValidateCancelReason rejects reasons shorter than MinCancelReasonLength
func ValidateCancelReason(reason *string) error {
	if reason == nil || len([]rune(strings.TrimSpace(*reason))) < MinCancelReasonLength {
		return errors.ValidationField("motivo_cancelacion",
			fmt.Sprintf("must be at least %d characters", MinCancelReasonLength))
	}
	return nil
}

// Valid reports whether k is a known appointment kind
func (k Kind) Valid() bool {
	return k == KindConsultation || k == KindFollowUp || k == KindEmergency
}

// StartsInPast reports whether an appointment on fecha, starting at start
// when known, begins more than PastGrace before now. Without a start time
// only the date is compared.
func StartsInPast(fecha time.Time, start *TimeOfDay, now time.Time) bool {
	y, m, d := fecha.Date()
	if start == nil {
		ny, nm, nd := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))
	}
	at := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(start.Duration())
	return at.Before(now.Add(-PastGrace))
}
