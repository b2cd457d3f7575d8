package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"hyperlocal/internal/types"
)

// Validator wraps go-playground/validator with the domain tags used by
// request DTOs. Field names in errors are the JSON names.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes one failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator creates a Validator and registers the custom tags
// trigger_type, threshold_operator and risk_level.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

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

	mustRegister(v, "trigger_type", func(fl validator.FieldLevel) bool {
		return types.TriggerType(fl.Field().String()).Valid()
	})
	mustRegister(v, "threshold_operator", func(fl validator.FieldLevel) bool {
		return types.Operator(fl.Field().String()).Valid()
	})
	mustRegister(v, "risk_level", func(fl validator.FieldLevel) bool {
		return types.RiskLevel(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct validates s. The returned AppError carries the first failing
// field in details["field"] and every failure in details["validation_errors"].
// Missing required fields use validation_missing_required_field; any other
// failure uses validation_invalid_field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("struct validation misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	details := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ValidationError{
			Field:   fieldPath(fe),
			Code:    fe.Tag(),
			Message: messageFor(fe),
		})
	}

	first := fieldErrs[0]
	code := types.ErrCodeValidationInvalidField
	if first.Tag() == "required" {
		code = types.ErrCodeValidationMissingField
	}

	return types.NewAppErrorWithDetails(code, details[0].Message, err, map[string]any{
		"field":             details[0].Field,
		"validation_errors": details,
	})
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func messageFor(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "trigger_type":
		return field + " must be one of rainfall, wind_speed, temperature"
	case "threshold_operator":
		return field + " must be one of gt, gte, lt, lte"
	case "risk_level":
		return field + " must be one of low, medium, high, critical"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
