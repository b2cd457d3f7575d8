package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidLat,
		Message: "latitude must be between -90 and 90",
	}

	expected := "validation_invalid_latitude: latitude must be between -90 and 90"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorErrorsAsThroughWrap(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundTrigger, "trigger not found", nil)
	wrapped := fmt.Errorf("evaluate: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeNotFoundTrigger {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeNotFoundTrigger)
	}
}

func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "failed to insert alert", sentinel)

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationDuration, http.StatusBadRequest},
		{ErrCodeValidationUnknownLocation, http.StatusBadRequest},
		{ErrCodeNotFoundAlert, http.StatusNotFound},
		{ErrCodeNotFoundLocation, http.StatusNotFound},
		{ErrCodeConflictOpenAlert, http.StatusConflict},
		{ErrCodeConflictLocationInUse, http.StatusConflict},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalCache, http.StatusInternalServerError},
		{ErrCodeUpstreamForecast, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := NewValidationError(ErrCodeValidationThreshold, "threshold_value", "must be finite")
	extended := base.WithDetails(map[string]any{"value": "NaN"})

	if _, ok := base.Details["value"]; ok {
		t.Error("original details were mutated")
	}
	if extended.Details["field"] != "threshold_value" || extended.Details["value"] != "NaN" {
		t.Errorf("merged details = %v", extended.Details)
	}
}

func TestErrorClassHelpers(t *testing.T) {
	notFound := fmt.Errorf("wrap: %w", NewAppError(ErrCodeNotFoundLocation, "missing", nil))
	conflict := NewAppError(ErrCodeConflictOpenAlert, "open", nil)
	validation := NewValidationError(ErrCodeValidationForecastTime, "forecast_time", "required")
	plain := errors.New("plain")

	if !IsNotFound(notFound) || IsNotFound(conflict) {
		t.Error("IsNotFound misclassified")
	}
	if !IsConflict(conflict) || IsConflict(plain) {
		t.Error("IsConflict misclassified")
	}
	if !IsValidation(validation) || IsValidation(notFound) {
		t.Error("IsValidation misclassified")
	}
	if CodeOf(plain) != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", CodeOf(plain))
	}
}
