package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"hyperlocal/internal/types"
)

// maxRequestBodySize caps request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// APIErrorResponse is the error envelope. Successful responses are bare
// objects or arrays.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data and writes it with the given status. A marshal failure
// becomes a 500 envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		types.LoggerFromContext(r.Context(), nil).Error("failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errorDetail maps err to a status and the client-facing envelope. Errors
// other than AppError collapse to internal_unexpected so wrapped driver or
// SDK messages are not exposed.
func errorDetail(r *http.Request, err error) (int, ErrorDetail) {
	detail := ErrorDetail{RequestID: types.GetRequestID(r.Context())}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		detail.Code = string(types.ErrCodeInternalUnexpected)
		detail.Message = "an unexpected error occurred"
		return http.StatusInternalServerError, detail
	}
	detail.Code = string(appErr.Code)
	detail.Message = appErr.Message
	detail.Details = appErr.Details
	return appErr.HTTPStatus(), detail
}

// Error writes the error envelope for err. Server-side failures are logged
// with the wrapped cause.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorDetail(r, err)
	if status >= http.StatusInternalServerError {
		types.LoggerFromContext(r.Context(), nil).Error("request failed",
			"code", detail.Code, "status", status, "error", err)
	}
	JSON(w, r, status, APIErrorResponse{Error: detail})
}

// DecodeJSON reads exactly one JSON value from the body into dst, rejecting
// unknown fields and bodies over 1 MB. Failures are
// validation_malformed_request AppErrors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return malformed("request body must contain a single JSON value", nil)
	}
	return nil
}

func malformed(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationMalformedRequest, msg, err)
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return malformed("request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return malformed("malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedRequest,
			"invalid value for field",
			err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()},
		)
	}

	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return malformed("unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	}

	if errors.Is(err, io.EOF) {
		return malformed("request body must not be empty", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return malformed("malformed JSON in request body", err)
	}

	return malformed("invalid JSON in request body", err)
}
