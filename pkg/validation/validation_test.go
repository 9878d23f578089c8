package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCedula(t *testing.T) {
	tests := []struct {
		name    string
		cedula  string
		valid   bool
		message string
	}{
		{"valid pichincha", "1710034065", true, ""},
		{"valid guayas", "0926687856", true, ""},
		{"trimmed", " 1710034065 ", true, ""},
		{"too short", "171003406", false, "cedula must be exactly 10 digits"},
		{"letters", "17100340AB", false, "cedula must be exactly 10 digits"},
		{"province zero", "0010034065", false, "invalid province code"},
		{"province 25", "2510034065", false, "invalid province code"},
		{"third digit", "1770034065", false, "third digit must be less than 6"},
		{"bad check digit", "1710034066", false, "invalid cedula check digit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateCedula(tt.cedula)
			assert.Equal(t, tt.valid, result.Valid)
			if !tt.valid {
				assert.Equal(t, tt.message, result.Message)
			}
		})
	}
}

func TestIsTimeOfDay(t *testing.T) {
	for _, s := range []string{"08:00", "23:59", "00:00:00", "14:30:15"} {
		assert.True(t, IsTimeOfDay(s), s)
	}
	for _, s := range []string{"24:00", "8:00", "08:60", "08:00:61", "0800", ""} {
		assert.False(t, IsTimeOfDay(s), s)
	}
}

func TestIsDate(t *testing.T) {
	assert.True(t, IsDate("2026-02-28"))
	assert.False(t, IsDate("2026-02-30"))
	assert.False(t, IsDate("28/02/2026"))
}
