package server

import (
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/miruml/agent/internal/buildinfo"
	"github.com/miruml/agent/internal/cache"
)

// NewMux builds the local read-only HTTP surface over state. Every data
// route is gated on state.Activated per spec.md §9's S6 scenario: with
// activated=false, every data request returns 503 regardless of what's in
// cache.
func NewMux(state *State) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", handleHealthz())
	mux.Handle("GET /configs/{type_slug}/{schema_digest}", activationGate(state, handleGetConcreteConfig(state)))
	mux.Handle("GET /config-instances/{id}", activationGate(state, handleGetConfigInstance(state)))
	return withRequestID(mux)
}

// withRequestID tags every response with a correlation id, logged alongside
// the method and path so a single local request can be traced through the
// logs even though this surface has no persistent request log of its own.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Printf("[server] %s request_id=%s %s %s", r.Method, id, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": buildinfo.Version,
		})
	}
}

// activationGate returns 503 for every data request until the device has
// been activated, per spec.md §7's DeviceNotActivated row ("gate at
// server") and §9's S6 scenario.
func activationGate(state *State, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !state.Activated {
			WriteError(w, http.StatusServiceUnavailable, "device_not_activated", "device is not activated")
			return
		}
		if state.Activity != nil {
			state.Activity.Touch()
		}
		next(w, r)
	}
}

func handleGetConcreteConfig(state *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typeSlug := r.PathValue("type_slug")
		digest := r.PathValue("schema_digest")

		cfg, ok := state.Caches.ConcreteConfigs.Read(cache.ConcreteConfigKey{
			ConfigTypeSlug: typeSlug,
			SchemaDigest:   digest,
		})
		if !ok {
			WriteError(w, http.StatusNotFound, "not_found", "no concrete config for that type and digest")
			return
		}
		WriteJSON(w, http.StatusOK, cfg)
	}
}

func handleGetConfigInstance(state *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		inst, ok := state.Caches.ConfigInstances.Read(cache.InstanceKey{ID: id})
		if !ok {
			WriteError(w, http.StatusNotFound, "not_found", "no config instance with that id")
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}
