// Package handlers contains the HTTP handlers for the dashboard API: monitored
// locations, parametric triggers, forecast samples and alerts. Each handler
// depends on a narrow service interface and mounts itself with RegisterRoutes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hyperlocal/internal/core"
	"hyperlocal/internal/locations"
	"hyperlocal/internal/types"
)

// LocationService is the subset of locations.Registry used by the API.
type LocationService interface {
	Register(ctx context.Context, req locations.CreateRequest) (*types.Location, error)
	Get(ctx context.Context, id string) (*types.Location, error)
	List(ctx context.Context, f locations.Filter) ([]types.Location, error)
	Update(ctx context.Context, id string, req locations.UpdateRequest) (*types.Location, error)
	Deregister(ctx context.Context, id string) error
}

// LocationHandler serves /locations.
type LocationHandler struct {
	svc       LocationService
	validator *core.Validator
	logger    *slog.Logger
}

// NewLocationHandler creates a LocationHandler.
func NewLocationHandler(svc LocationService, v *core.Validator, l *slog.Logger) *LocationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &LocationHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts location routes.
func (h *LocationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/locations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// List handles GET /locations?insurer_id=.
func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	locs, err := h.svc.List(r.Context(), locations.Filter{InsurerID: r.URL.Query().Get("insurer_id")})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, nonNil(locs))
}

// Create handles POST /locations.
func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req locations.CreateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	loc, err := h.svc.Register(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, loc)
}

// Get handles GET /locations/{id}.
func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, loc)
}

// Update handles PATCH /locations/{id}.
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req locations.UpdateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	loc, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, loc)
}

// Delete handles DELETE /locations/{id}. A location with active triggers or
// open alerts is refused with conflict_location_in_use.
func (h *LocationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Deregister(r.Context(), id); err != nil {
		if types.IsConflict(err) {
			types.LoggerFromContext(r.Context(), h.logger).WarnContext(r.Context(), "location deregistration refused",
				"location_id", id, "error", err)
		}
		core.Error(w, r, err)
		return
	}
	core.NoContent(w)
}

// nonNil keeps empty listings encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
