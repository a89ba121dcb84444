// Package validation runs explicit schema checks at the boundary of each
// service operation.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"storefront-service/internal/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var (
	phonePattern      = regexp.MustCompile(`^(0|\+84)[0-9]{9,10}$`)
	postalCodePattern = regexp.MustCompile(`^[0-9]{5,6}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("vnphone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("postalcode", func(fl validator.FieldLevel) bool {
		return postalCodePattern.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates s against its `validate` tags and returns a
// VALIDATION_ERROR carrying per-field messages on mismatch.
func Struct(s any) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *apperrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldPath(fieldErr)] = validationMessage(fieldErr)
		}
		return apperrors.New(apperrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return apperrors.Wrap(apperrors.CodeValidation, err, "validation failed")
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "notblank":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "vnphone":
		return "must be a valid phone number"
	case "postalcode":
		return "must be a 5 or 6 digit postal code"
	}
	return "is invalid"
}
