package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv, _ := NewServer(testConfig(), discardLogger())
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func probe(name string, err error) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) error { return err }}
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	if code != http.StatusOK || resp.Status != "healthy" {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := runHealth(t, probe("database", nil), probe("redis", nil))
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Components["database"].Status != "healthy" || resp.Components["redis"].Status != "healthy" {
		t.Errorf("components = %+v", resp.Components)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	code, resp := runHealth(t, probe("database", nil), probe("redis", errors.New("connection refused")))
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q", resp.Status)
	}
	if got := resp.Components["redis"]; got.Status != "unhealthy" || got.Message != "connection refused" {
		t.Errorf("redis = %+v", got)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Errorf("database = %+v", resp.Components["database"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	p := ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { panic("nil pool") }}
	code, resp := runHealth(t, p)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Components["database"].Message != "probe panicked: nil pool" {
		t.Errorf("message = %q", resp.Components["database"].Message)
	}
}

func TestHandleHealth_TimedOutProbe(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := ProbeFunc{ProbeName: "redis", Fn: func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
			<-release
		}
		return nil
	}}

	code, resp := runHealth(t, slow)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Components["redis"].Message != "health check timed out" {
		t.Errorf("message = %q", resp.Components["redis"].Message)
	}
}
