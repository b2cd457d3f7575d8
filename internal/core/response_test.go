package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hyperlocal/internal/types"
)

func TestJSON_WritesBareBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, []string{"a", "b"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != `["a","b"]` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestError_AppErrorStatusAndDetails(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "validation",
			err:    types.NewValidationError(types.ErrCodeValidationDuration, "duration_hours", "duration_hours must be between 1 and 336"),
			status: http.StatusBadRequest,
			code:   "validation_duration_out_of_range",
		},
		{
			name:   "wrapped not found",
			err:    fmt.Errorf("lookup: %w", types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)),
			status: http.StatusNotFound,
			code:   "not_found_alert",
		},
		{
			name:   "conflict",
			err:    types.NewAppError(types.ErrCodeConflictLocationInUse, "location has active triggers", nil),
			status: http.StatusConflict,
			code:   "conflict_location_in_use",
		},
		{
			name:   "generic",
			err:    errors.New("pq: connection reset"),
			status: http.StatusInternalServerError,
			code:   "internal_unexpected_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
			rec := httptest.NewRecorder()
			Error(rec, req, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			detail := decodeErrorEnvelope(t, rec.Body)
			if detail.Code != tt.code {
				t.Errorf("code = %q, want %q", detail.Code, tt.code)
			}
			if detail.RequestID != "req-1" {
				t.Errorf("request_id = %q", detail.RequestID)
			}
		})
	}
}

func TestError_GenericDoesNotLeakMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("password=hunter2"))

	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestError_ValidationFieldDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		types.NewValidationError(types.ErrCodeValidationInvalidLat, "latitude", "latitude must be between -90 and 90"))

	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Details["field"] != "latitude" {
		t.Errorf("details = %v", resp.Error.Details)
	}
}

type decodeTarget struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantMsg string
	}{
		{name: "valid", body: `{"name":"rain","value":2.5}`},
		{name: "empty", body: ``, wantErr: true, wantMsg: "must not be empty"},
		{name: "syntax", body: `{"name":`, wantErr: true, wantMsg: "malformed JSON"},
		{name: "unknown field", body: `{"name":"rain","extra":1}`, wantErr: true, wantMsg: "unknown field"},
		{name: "wrong type", body: `{"value":"high"}`, wantErr: true, wantMsg: "invalid value"},
		{name: "trailing value", body: `{"name":"a"}{"name":"b"}`, wantErr: true, wantMsg: "single JSON value"},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, wantErr: true, wantMsg: "1MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst decodeTarget
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.Name != "rain" || dst.Value != 2.5 {
					t.Errorf("decoded %+v", dst)
				}
				return
			}
			if types.CodeOf(err) != types.ErrCodeValidationMalformedRequest {
				t.Fatalf("code = %q, want validation_malformed_request (err %v)", types.CodeOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}
