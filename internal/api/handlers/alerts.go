package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hyperlocal/internal/alerts"
	"hyperlocal/internal/core"
	"hyperlocal/internal/types"
)

// AlertService is the subset of alerts.Service used by the API.
type AlertService interface {
	Get(ctx context.Context, id string) (*types.Alert, error)
	List(ctx context.Context, f alerts.Filter) ([]types.Alert, error)
	Resolve(ctx context.Context, id string) (*types.Alert, error)
}

// AlertHandler serves /alerts.
type AlertHandler struct {
	svc    AlertService
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(svc AlertService, l *slog.Logger) *AlertHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AlertHandler{svc: svc, logger: l}
}

// RegisterRoutes mounts alert routes.
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/location/{location_id}", h.ListForLocation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/resolve", h.Resolve)
		})
	})
}

// List handles GET /alerts?active_only=&risk_level=&location_id=&trigger_id=.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseAlertFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.list(w, r, f)
}

// ListForLocation handles GET /alerts/location/{location_id}. The other
// filters still apply.
func (h *AlertHandler) ListForLocation(w http.ResponseWriter, r *http.Request) {
	f, err := parseAlertFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	f.LocationID = chi.URLParam(r, "location_id")
	h.list(w, r, f)
}

func (h *AlertHandler) list(w http.ResponseWriter, r *http.Request, f alerts.Filter) {
	as, err := h.svc.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, nonNil(as))
}

// Get handles GET /alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

// Resolve handles PATCH /alerts/{id}/resolve. Resolving twice returns the
// already resolved alert.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

func parseAlertFilter(r *http.Request) (alerts.Filter, error) {
	q := r.URL.Query()
	f := alerts.Filter{
		LocationID: q.Get("location_id"),
		TriggerID:  q.Get("trigger_id"),
		RiskLevel:  types.RiskLevel(q.Get("risk_level")),
	}
	if raw := q.Get("active_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, types.NewValidationError(types.ErrCodeValidationInvalidField, "active_only", "active_only must be true or false")
		}
		f.ActiveOnly = v
	}
	return f, nil
}
