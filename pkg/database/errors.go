package database

import (
	stderrors "errors"
	"strings"

	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514":
		return mapCheckConstraint(pqErr)

	case "23505":
		return errors.Conflict(formatUniqueMessage(pqErr))

	case "23503":
		return errors.BadRequest("referenced record does not exist")

	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.ValidationField(col, "must not be empty")

	// exclusion_violation: the scheduling backstop against overlapping blocks
	case "23P01":
		return errors.Conflict("the physician already has an appointment in this time block")

	// string_data_right_truncation
	case "22001":
		field := pqErr.Column
		if field == "" {
			field = "value"
		}
		return errors.ValidationField(field, "is too long")

	default:
		return nil
	}
}

// MapError returns the mapped AppError when there is one and err otherwise.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "cantidad_inicial"):
		return errors.ValidationField("cantidad_inicial", "must be greater than 0")
	case strings.Contains(constraint, "cantidad_disponible"):
		return errors.ValidationField("cantidad_disponible", "must be between 0 and cantidad_inicial")
	case strings.Contains(constraint, "costo_unitario"):
		return errors.ValidationField("costo_unitario", "must not be negative")
	case strings.Contains(constraint, "cancelacion"):
		return errors.ValidationField("motivo_cancelacion", "must be at least 10 characters")
	case strings.Contains(constraint, "horario"):
		return errors.ValidationField("hora_fin", "must be after hora_inicio")
	case strings.Contains(constraint, "estado"):
		return errors.ValidationField("estado", "unknown state")
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatUniqueMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "numero_lote"):
		return "a lot with this lot number already exists"
	case strings.Contains(pqErr.Constraint, "cedula"):
		return "a patient with this cedula already exists"
	default:
		return "a record with these values already exists"
	}
}
