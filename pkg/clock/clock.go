// Package clock supplies the current time in the hospital's timezone.
//
// Calendar dates (lot expiry, appointment dates) are DATE columns; they are
// compared as midnight UTC values so a civil date never shifts by an offset.
package clock

import "time"

// Clock reports the current instant
type Clock interface {
	Now() time.Time
}

// System is the wall clock in a fixed location
type System struct {
	Location *time.Location
}

// Now returns the current time in the configured location
func (s System) Now() time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}

// Fixed always returns T. Tests use it.
type Fixed struct {
	T time.Time
}

// Now returns the fixed instant
func (f Fixed) Now() time.Time {
	return f.T
}

// Today returns the civil date of c.Now() as midnight UTC
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf drops the time of day from t, keeping t's own calendar date
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from a to b, both calendar dates
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
