// Package validation holds Ecuador-specific and schedule format checks shared
// by request validation and service code.
package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result contains the result of a validation
type Result struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message,omitempty"`
	Formatted string `json:"formatted,omitempty"`
}

var (
	cedulaPattern = regexp.MustCompile(`^\d{10}$`)
	hhmmPattern   = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)
)

// ValidateCedula validates an Ecuadorian national identity number.
// Format: 10 digits, province code 01-24, third digit below 6, modulo 10 check digit.
func ValidateCedula(cedula string) *Result {
	clean := strings.TrimSpace(cedula)

	if !cedulaPattern.MatchString(clean) {
		return &Result{Valid: false, Message: "cedula must be exactly 10 digits"}
	}

	province, _ := strconv.Atoi(clean[:2])
	if province < 1 || province > 24 {
		return &Result{Valid: false, Message: "invalid province code"}
	}

	if clean[2]-'0' >= 6 {
		return &Result{Valid: false, Message: "third digit must be less than 6"}
	}

	if !cedulaChecksum(clean) {
		return &Result{Valid: false, Message: "invalid cedula check digit"}
	}

	return &Result{Valid: true, Formatted: clean}
}

// cedulaChecksum applies coefficients 2,1,2,1,... to the first nine digits,
// folding products above 9.
func cedulaChecksum(cedula string) bool {
	sum := 0
	for i := 0; i < 9; i++ {
		d := int(cedula[i] - '0')
		if i%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return check == int(cedula[9]-'0')
}

// IsCedula reports whether s is a valid cedula.
func IsCedula(s string) bool {
	return ValidateCedula(s).Valid
}

// IsTimeOfDay reports whether s is HH:MM or HH:MM:SS.
func IsTimeOfDay(s string) bool {
	return hhmmPattern.MatchString(s)
}

// IsDate reports whether s is a calendar date in YYYY-MM-DD form.
func IsDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
