// Package server implements the local, read-only HTTP surface spec.md §6
// describes, grounded on Resinat-Resin's internal/api package (server.go's
// mux wiring, response.go's JSON envelope, middleware.go's body-limit
// pattern).
package server

import (
	"github.com/miruml/agent/internal/activity"
	"github.com/miruml/agent/internal/cache"
	"github.com/miruml/agent/internal/syncer"
	"github.com/miruml/agent/internal/token"
)

// State bundles everything the local handlers read from, mirroring
// original_source's server/state.rs field-for-field. The caches, token
// manager, syncer, and activity tracker are shared references with the
// background syncer; no cycles exist in the handle graph.
type State struct {
	DeviceID  string
	Activated bool
	Caches    *cache.Registry
	Syncer    *syncer.Syncer
	TokenMgr  *token.Manager
	Activity  *activity.Tracker
}
