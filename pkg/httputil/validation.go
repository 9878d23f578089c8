package httputil

import (
	"fmt"

	"github.com/clinicaec/hospital-backend/pkg/errors"
	"github.com/clinicaec/hospital-backend/pkg/validation"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// customTags are the validation tags the request DTOs use beyond the
// validator's built-ins.
var customTags = map[string]validator.Func{
	"cedula_ec": func(fl validator.FieldLevel) bool {
		return validation.IsCedula(fl.Field().String())
	},
	"hhmm": func(fl validator.FieldLevel) bool {
		return validation.IsTimeOfDay(fl.Field().String())
	},
	"date": func(fl validator.FieldLevel) bool {
		return validation.IsDate(fl.Field().String())
	},
}

func newValidator() *validator.Validate {
	v := validator.New()
	for tag, fn := range customTags {
		mustRegister(v, tag, fn)
	}
	return v
}

// mustRegister panics when a tag cannot be registered, so a broken tag
// fails at startup instead of on the first request that uses it.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("httputil: register validation %q: %v", tag, err))
	}
}

// Validate validates a struct using go-playground/validator
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.BadRequest("invalid request")
		}
		details := make(map[string]string)

		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}

		return errors.Validation(details)
	}
	return nil
}

// ValidateVar validates a single value against a tag, reporting it under field.
func ValidateVar(field string, value interface{}, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok && len(validationErrors) > 0 {
			return errors.ValidationField(field, formatValidationError(validationErrors[0]))
		}
		return errors.ValidationField(field, "invalid value")
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + e.Param()
	case "cedula_ec":
		return "must be a valid Ecuadorian cedula"
	case "hhmm":
		return "must be a time in HH:MM or HH:MM:SS format"
	case "date":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "invalid value"
	}
}
