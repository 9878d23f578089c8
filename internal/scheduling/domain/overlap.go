package domain

import (
	"fmt"
	"time"

	"github.com/clinicaec/hospital-backend/pkg/errors"
)

// TimeOfDay is a wall-clock time as seconds after midnight
type TimeOfDay int

// ParseTimeOfDay accepts HH:MM or HH:MM:SS
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// ParseOptional parses a nullable time column or field. field names the
// value in the validation error.
func ParseOptional(field string, s *string) (*TimeOfDay, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := ParseTimeOfDay(*s)
	if err != nil {
		return nil, errors.ValidationField(field, "must be a time in HH:MM or HH:MM:SS format")
	}
	return &t, nil
}

// String formats t as HH:MM:SS, the form TIME columns use
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Duration returns t as an offset from midnight
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// MarshalText implements encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// CheckOrder requires end to be after start when both are known
func CheckOrder(start, end *TimeOfDay) error {
	if start != nil && end != nil && *end <= *start {
		return errors.ValidationField("hora_fin", "must be after hora_inicio")
	}
	return nil
}

// Block is a physician's time occupied by one appointment, [Inicio, Fin)
type Block struct {
	Inicio TimeOfDay `json:"inicio"`
	Fin    TimeOfDay `json:"fin"`
	CitaID string    `json:"cita_id"`
}

// Overlaps reports whether [start, end) intersects the block. Blocks that
// only touch at an endpoint do not overlap.
func (b Block) Overlaps(start, end TimeOfDay) bool {
	return start < b.Fin && b.Inicio < end
}

// FindConflict returns the first block that overlaps [start, end), skipping
// the appointment excludeID.
func FindConflict(blocks []Block, start, end TimeOfDay, excludeID string) (Block, bool) {
	for _, b := range blocks {
		if b.CitaID == excludeID {
			continue
		}
		if b.Overlaps(start, end) {
			return b, true
		}
	}
	return Block{}, false
}

// ConflictError reports a booking that collides with b. Its details carry
// the colliding appointment.
func ConflictError(b Block) *errors.AppError {
	return errors.Conflict("the physician already has an appointment in this time block").
		WithDetails(map[string]string{
			"cita_id":     b.CitaID,
			"hora_inicio": b.Inicio.String(),
			"hora_fin":    b.Fin.String(),
		})
}
