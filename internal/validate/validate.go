// Package validate checks forms before they leave the client. Failures are
// reported as *apperrors.ValidationError keyed by json field names, the same
// shape the remote API uses.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
)

// MinPasswordLength mirrors the remote password policy
const MinPasswordLength = 8

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Return on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Struct validates v using its struct tags
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validate: %w", err)
	}

	verr := apperrors.NewValidationError("Request validation failed")
	for _, fieldError := range errs {
		verr.Add(fieldError.Field(), message(fieldError))
	}

	return verr
}

// Create user-friendly error messages based on validation tag
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fe.Param())
	case "max":
		return fmt.Sprintf("Value is too long (maximum %s)", fe.Param())
	case "email":
		return "Enter a valid email address"
	default:
		return "Invalid value"
	}
}
