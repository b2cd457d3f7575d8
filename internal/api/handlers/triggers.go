package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hyperlocal/internal/core"
	"hyperlocal/internal/triggers"
	"hyperlocal/internal/types"
)

// TriggerService is the subset of triggers.Registry used by the API.
type TriggerService interface {
	Create(ctx context.Context, req triggers.CreateRequest) (*types.Trigger, error)
	Get(ctx context.Context, id string) (*types.Trigger, error)
	List(ctx context.Context, f triggers.Filter) ([]types.Trigger, error)
	Deactivate(ctx context.Context, id string) (*types.Trigger, error)
	Toggle(ctx context.Context, id string) (*types.Trigger, error)
}

// TriggerHandler serves /triggers.
type TriggerHandler struct {
	svc       TriggerService
	validator *core.Validator
	logger    *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler.
func NewTriggerHandler(svc TriggerService, v *core.Validator, l *slog.Logger) *TriggerHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TriggerHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts trigger routes.
func (h *TriggerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/triggers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/location/{location_id}", h.ListForLocation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/toggle", h.Toggle)
			r.Patch("/deactivate", h.Deactivate)
		})
	})
}

// List handles GET /triggers?location_id=&active=.
func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := triggers.Filter{LocationID: q.Get("location_id")}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			core.Error(w, r, types.NewValidationError(types.ErrCodeValidationInvalidField, "active", "active must be true or false"))
			return
		}
		f.Active = &active
	}
	h.list(w, r, f)
}

// ListForLocation handles GET /triggers/location/{location_id}.
func (h *TriggerHandler) ListForLocation(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, triggers.Filter{LocationID: chi.URLParam(r, "location_id")})
}

func (h *TriggerHandler) list(w http.ResponseWriter, r *http.Request, f triggers.Filter) {
	ts, err := h.svc.List(r.Context(), f)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, nonNil(ts))
}

// Create handles POST /triggers. Type, operator, threshold and duration are
// checked by the registry so each failure carries its own error code.
func (h *TriggerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req triggers.CreateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	t, err := h.svc.Create(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, t)
}

// Get handles GET /triggers/{id}.
func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, t)
}

// Toggle handles PATCH /triggers/{id}/toggle.
func (h *TriggerHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	types.LoggerFromContext(r.Context(), h.logger).DebugContext(r.Context(), "trigger toggled",
		"trigger_id", t.ID, "active", t.Active)
	core.JSON(w, r, http.StatusOK, t)
}

// Deactivate handles PATCH /triggers/{id}/deactivate. It is idempotent.
func (h *TriggerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, t)
}
