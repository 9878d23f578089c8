package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintHistory(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	entries := []*audit.Entry{
		{
			Accion:        audit.ActionUpdate,
			Estado:        audit.OutcomeFailure,
			UsuarioID:     testutil.PtrString("u-1"),
			UsuarioNombre: testutil.PtrString("Ana Torres"),
			Descripcion:   "actualizar lote",
			FechaHora:     at,
		},
		{
			Accion:      audit.ActionCreate,
			Estado:      audit.OutcomeSuccess,
			Descripcion: "crear lote",
			FechaHora:   at.Add(-time.Hour),
		},
	}

	var out bytes.Buffer
	require.NoError(t, printHistory(&out, entries))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DESCRIPTION")
	assert.Contains(t, lines[1], "2026-10-14 09:30:00")
	assert.Contains(t, lines[1], "ACTUALIZAR")
	assert.Contains(t, lines[1], "fallido")
	assert.Contains(t, lines[1], "Ana Torres")
	assert.Contains(t, lines[2], "sistema")
	assert.Contains(t, lines[2], "crear lote")
}

func TestPrintHistory_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil))
	assert.Equal(t, "no audit entries\n", out.String())
}
