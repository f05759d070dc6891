package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miruml/agent/internal/activity"
	"github.com/miruml/agent/internal/cache"
	"github.com/miruml/agent/internal/model"
)

func newTestState(t *testing.T, activated bool) *State {
	t.Helper()
	reg, err := cache.NewRegistry(t.TempDir(), cache.Capacities{
		Schemas: 10, ConfigInstances: 10, Digests: 10, ConcreteConfigs: 10,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &State{
		DeviceID:  "dvc_1",
		Activated: activated,
		Caches:    reg,
		Activity:  activity.NewTracker(),
	}
}

func TestHandlers_NotActivated_Returns503(t *testing.T) {
	state := newTestState(t, false)
	mux := NewMux(state)

	req := httptest.NewRequest(http.MethodGet, "/config-instances/inst_1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandlers_Activated_ServesFromCache(t *testing.T) {
	state := newTestState(t, true)
	inst := model.ConfigInstance{ID: "inst_1", ActivityStatus: model.ActivityStatusDeployed}
	if err := state.Caches.ConfigInstances.Write(cache.InstanceKey{ID: "inst_1"}, inst, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mux := NewMux(state)
	req := httptest.NewRequest(http.MethodGet, "/config-instances/inst_1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandlers_Activated_MissingReturns404(t *testing.T) {
	state := newTestState(t, true)
	mux := NewMux(state)

	req := httptest.NewRequest(http.MethodGet, "/config-instances/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlers_Healthz_NeverGated(t *testing.T) {
	state := newTestState(t, false)
	mux := NewMux(state)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandlers_SetsRequestIDHeader(t *testing.T) {
	state := newTestState(t, false)
	mux := NewMux(state)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header to be set")
	}
}

func TestHandlers_GetConcreteConfig(t *testing.T) {
	state := newTestState(t, true)
	cfg := model.ConcreteConfig{ConfigTypeSlug: "wifi", SchemaDigest: "abc123"}
	key := cache.ConcreteConfigKey{ConfigTypeSlug: "wifi", SchemaDigest: "abc123"}
	if err := state.Caches.ConcreteConfigs.Write(key, cfg, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mux := NewMux(state)
	req := httptest.NewRequest(http.MethodGet, "/configs/wifi/abc123", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}
