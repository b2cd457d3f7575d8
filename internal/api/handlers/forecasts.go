package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hyperlocal/internal/core"
	"hyperlocal/internal/forecasts"
	"hyperlocal/internal/types"
)

// ForecastService is the subset of forecasts.Service used by the API.
type ForecastService interface {
	Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error)
	Forecast(ctx context.Context, locationID string, q forecasts.ForecastQuery) ([]types.ForecastSample, error)
	Current(ctx context.Context, locationID string) (*types.ForecastSample, error)
}

// IngestRecorder counts accepted samples by source.
type IngestRecorder interface {
	RecordIngest(source string, n int)
}

// ForecastPoint is the dashboard view of one sample.
type ForecastPoint struct {
	ForecastTime   time.Time `json:"forecast_time"`
	Temperature    float64   `json:"temperature"`
	RainfallAmount float64   `json:"rainfall_amount"`
	WindSpeed      float64   `json:"wind_speed"`
	RiskScore      float64   `json:"risk_score"`
}

func toPoint(s types.ForecastSample) ForecastPoint {
	p := ForecastPoint{
		ForecastTime:   s.ForecastTime.UTC(),
		Temperature:    s.Temperature,
		RainfallAmount: s.RainfallAmount,
		WindSpeed:      s.WindSpeed,
	}
	if s.RiskScore != nil {
		p.RiskScore = *s.RiskScore
	}
	return p
}

// IngestResponse is returned by POST /forecast/{location_id}.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// ForecastHandler serves /forecast.
type ForecastHandler struct {
	svc     ForecastService
	metrics IngestRecorder
	logger  *slog.Logger
}

// NewForecastHandler creates a ForecastHandler. metrics may be nil.
func NewForecastHandler(svc ForecastService, metrics IngestRecorder, l *slog.Logger) *ForecastHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ForecastHandler{svc: svc, metrics: metrics, logger: l}
}

// RegisterRoutes mounts forecast routes.
func (h *ForecastHandler) RegisterRoutes(r chi.Router) {
	r.Route("/forecast/{location_id}", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Ingest)
		r.Get("/current", h.Current)
	})
}

// List handles GET /forecast/{location_id}?from=&to=&limit=.
func (h *ForecastHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseForecastQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	samples, err := h.svc.Forecast(r.Context(), chi.URLParam(r, "location_id"), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	points := make([]ForecastPoint, len(samples))
	for i, s := range samples {
		points[i] = toPoint(s)
	}
	core.JSON(w, r, http.StatusOK, points)
}

// Current handles GET /forecast/{location_id}/current.
func (h *ForecastHandler) Current(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Current(r.Context(), chi.URLParam(r, "location_id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, toPoint(*s))
}

// Ingest handles POST /forecast/{location_id}. The body is an array of
// samples; evaluation happens asynchronously, hence 202.
func (h *ForecastHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var samples []types.ForecastSample
	if err := core.DecodeJSON(w, r, &samples); err != nil {
		core.Error(w, r, err)
		return
	}

	locationID := chi.URLParam(r, "location_id")
	n, err := h.svc.Ingest(r.Context(), locationID, samples)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordIngest("api", n)
	}
	types.LoggerFromContext(r.Context(), h.logger).InfoContext(r.Context(), "forecast samples accepted",
		"location_id", locationID, "count", n)
	core.JSON(w, r, http.StatusAccepted, IngestResponse{Accepted: n})
}

func parseForecastQuery(r *http.Request) (forecasts.ForecastQuery, error) {
	var q forecasts.ForecastQuery
	values := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, types.NewValidationError(types.ErrCodeValidationInvalidField, p.name, p.name+" must be an RFC 3339 timestamp")
		}
		*p.dst = t.UTC()
	}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, types.NewValidationError(types.ErrCodeValidationInvalidField, "limit", "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}
