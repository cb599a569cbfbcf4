package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report the wire name so errors match what the client sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("otp_code", validateOTPCode)
	return v
}

// validateOTPCode accepts the empty string; "required" covers presence.
func validateOTPCode(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Validate runs the struct tags and converts the first failure into a
// domain validation error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.ErrInternal(err)
	}
	return fieldError(verrs[0])
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.ErrMissingField(field)
	case "max":
		return domain.ErrInvalidField(field, fmt.Sprintf("must be at most %s characters", fe.Param()))
	case "oneof":
		return domain.ErrInvalidField(field, "must be one of "+fe.Param())
	case "otp_code":
		return domain.ErrInvalidField(field, "must be 6 digits")
	default:
		return domain.ErrInvalidField(field, "is invalid")
	}
}

// firstNonEmpty picks the canonical field over its legacy alias.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
