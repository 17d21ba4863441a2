package pipeline

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// Validator validates bound request bodies with struct tags.
type Validator struct {
	validate *validator.Validate
}

var (
	defaultValidator *Validator
	validatorOnce    sync.Once
)

// DefaultValidator returns the shared validator.
func DefaultValidator() *Validator {
	validatorOnce.Do(func() { defaultValidator = NewValidator() })
	return defaultValidator
}

// NewValidator creates a validator reporting JSON field names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Engine exposes the underlying validator for custom rules.
func (v *Validator) Engine() *validator.Validate { return v.validate }

// Validate checks s. Non-struct values pass.
func (v *Validator) Validate(s interface{}) error {
	t := reflect.TypeOf(s)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.BadRequest("VALIDATION_FAILED", "Validation failed").WithCause(err).Build()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return apperrors.BadRequest("VALIDATION_FAILED", strings.Join(messages, "; ")).WithCause(err).Build()
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
