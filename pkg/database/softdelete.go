package database

import (
	"context"
	"fmt"

	"github.com/clinicaec/hospital-backend/pkg/errors"
)

// Every entity table carries the same two columns for logical deletion:
//
//	activo            BOOLEAN NOT NULL DEFAULT true
//	fecha_eliminacion TIMESTAMPTZ
//
// Queries exclude inactive rows unless they opt in with IncludeDeleted.

// ActiveColumn is the soft-delete flag shared by all entity tables.
const ActiveColumn = "activo"

// SoftDeletable describes a table that supports logical deletion.
type SoftDeletable struct {
	Table    string
	Resource string // name used in not-found errors
}

// Delete marks the row inactive. A row that is missing or already inactive
// is reported as not found.
func (s SoftDeletable) Delete(ctx context.Context, q Queryer, id string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET activo = false, fecha_eliminacion = NOW(), updated_at = NOW() WHERE id = $1 AND activo = true`,
		s.Table,
	)
	return s.exec(ctx, q, query, id)
}

// Restore reverses Delete.
func (s SoftDeletable) Restore(ctx context.Context, q Queryer, id string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET activo = true, fecha_eliminacion = NULL, updated_at = NOW() WHERE id = $1 AND activo = false`,
		s.Table,
	)
	return s.exec(ctx, q, query, id)
}

func (s SoftDeletable) exec(ctx context.Context, q Queryer, query, id string) error {
	result, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound(s.Resource)
	}
	return nil
}

// Visibility selects whether point and list queries see deleted rows.
type Visibility int

const (
	OnlyActive Visibility = iota
	IncludeDeleted
)

// Clause returns the SQL predicate for the visibility, qualified by alias
// when one is given.
func (v Visibility) Clause(alias string) string {
	if v == IncludeDeleted {
		return "TRUE"
	}
	if alias == "" {
		return ActiveColumn + " = true"
	}
	return alias + "." + ActiveColumn + " = true"
}
