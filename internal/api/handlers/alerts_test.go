package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperlocal/internal/alerts"
	"hyperlocal/internal/types"
)

type mockAlertService struct {
	getFn     func(ctx context.Context, id string) (*types.Alert, error)
	listFn    func(ctx context.Context, f alerts.Filter) ([]types.Alert, error)
	resolveFn func(ctx context.Context, id string) (*types.Alert, error)

	lastFilter alerts.Filter
}

func (m *mockAlertService) Get(ctx context.Context, id string) (*types.Alert, error) {
	return m.getFn(ctx, id)
}

func (m *mockAlertService) List(ctx context.Context, f alerts.Filter) ([]types.Alert, error) {
	m.lastFilter = f
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

func (m *mockAlertService) Resolve(ctx context.Context, id string) (*types.Alert, error) {
	return m.resolveFn(ctx, id)
}

func openAlert(id string) *types.Alert {
	return &types.Alert{
		ID:                  id,
		TriggerID:           "trg_1",
		LocationID:          "loc_1",
		RiskLevel:           types.RiskMedium,
		RiskScore:           0.2,
		Message:             "rainfall threshold exceeded: 60 gt 50",
		CurrentValue:        60,
		ThresholdValue:      50,
		TriggeredAt:         t0,
		UpdatedAt:           t0,
		PrescriptiveActions: []string{"Clear drainage channels"},
	}
}

func TestAlertHandler_List_Filters(t *testing.T) {
	svc := &mockAlertService{}
	h := NewAlertHandler(svc, testLogger())

	rec := serve(t, h, http.MethodGet, "/alerts?active_only=true&risk_level=high&location_id=loc_1&trigger_id=trg_1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, alerts.Filter{ActiveOnly: true, LocationID: "loc_1", TriggerID: "trg_1", RiskLevel: types.RiskHigh}, svc.lastFilter)
}

func TestAlertHandler_List_BadActiveOnly(t *testing.T) {
	h := NewAlertHandler(&mockAlertService{}, testLogger())

	rec := serve(t, h, http.MethodGet, "/alerts?active_only=yes-please", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "active_only", decodeError(t, rec).Details["field"])
}

func TestAlertHandler_List_InvalidRiskLevelFromService(t *testing.T) {
	svc := &mockAlertService{listFn: func(_ context.Context, f alerts.Filter) ([]types.Alert, error) {
		return nil, types.NewValidationError(types.ErrCodeValidationRiskLevel, "risk_level", "bad level")
	}}
	h := NewAlertHandler(svc, testLogger())

	rec := serve(t, h, http.MethodGet, "/alerts?risk_level=severe", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationRiskLevel), decodeError(t, rec).Code)
}

func TestAlertHandler_ListForLocation(t *testing.T) {
	svc := &mockAlertService{listFn: func(_ context.Context, f alerts.Filter) ([]types.Alert, error) {
		return []types.Alert{*openAlert("alr_1")}, nil
	}}
	h := NewAlertHandler(svc, testLogger())

	rec := serve(t, h, http.MethodGet, "/alerts/location/loc_7?active_only=true", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "loc_7", svc.lastFilter.LocationID)
	assert.True(t, svc.lastFilter.ActiveOnly)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	for _, field := range []string{
		"id", "trigger_id", "location_id", "risk_level", "risk_score", "message", "current_value",
		"threshold_value", "triggered_at", "updated_at", "resolved", "resolved_at", "prescriptive_actions",
	} {
		assert.Contains(t, got[0], field)
	}
	assert.Nil(t, got[0]["resolved_at"])
}

func TestAlertHandler_Get(t *testing.T) {
	svc := &mockAlertService{getFn: func(_ context.Context, id string) (*types.Alert, error) {
		if id == "alr_1" {
			return openAlert(id), nil
		}
		return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}}
	h := NewAlertHandler(svc, testLogger())

	rec := serve(t, h, http.MethodGet, "/alerts/alr_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodGet, "/alerts/alr_9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundAlert), decodeError(t, rec).Code)
}

func TestAlertHandler_Resolve(t *testing.T) {
	resolvedAt := t0.Add(5 * time.Hour)
	calls := 0
	svc := &mockAlertService{resolveFn: func(_ context.Context, id string) (*types.Alert, error) {
		calls++
		a := openAlert(id)
		a.Resolved = true
		a.ResolvedAt = &resolvedAt
		return a, nil
	}}
	h := NewAlertHandler(svc, testLogger())

	for i := 0; i < 2; i++ {
		rec := serve(t, h, http.MethodPatch, "/alerts/alr_1/resolve", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got types.Alert
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.True(t, got.Resolved)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, got.ResolvedAt.Equal(resolvedAt))
	}
	assert.Equal(t, 2, calls)
}

func TestAlertHandler_Resolve_NotFound(t *testing.T) {
	svc := &mockAlertService{resolveFn: func(context.Context, string) (*types.Alert, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", nil)
	}}
	h := NewAlertHandler(svc, testLogger())

	rec := serve(t, h, http.MethodPatch, "/alerts/alr_404/resolve", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
