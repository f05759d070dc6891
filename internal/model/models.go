// Package model defines domain structs shared across the cache, sync, and
// HTTP layers.
package model

import (
	"encoding/json"
	"time"
)

// Device is the device descriptor persisted at <root>/agent.json.
type Device struct {
	DeviceID           string `json:"device_id"`
	Activated          bool   `json:"activated"`
	BackendBaseURL     string `json:"backend_base_url"`
	LogLevel           string `json:"log_level"`
	DeploymentBasePath string `json:"deployment_base_path"`
}

// DefaultDevice returns the placeholder device descriptor used before
// activation completes.
func DefaultDevice() Device {
	return Device{
		DeviceID:           "placeholder",
		Activated:          false,
		BackendBaseURL:     "https://configs.api.miruml.com/agent/v1",
		LogLevel:           "info",
		DeploymentBasePath: "/srv/miru/configs/",
	}
}

// Token is an auth token handed out by the backend's token endpoint.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token has passed its expiry at the given instant.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// ActivityStatus is the lifecycle status of a config instance.
type ActivityStatus string

const (
	ActivityStatusQueued   ActivityStatus = "queued"
	ActivityStatusDeployed ActivityStatus = "deployed"
	ActivityStatusRemoved  ActivityStatus = "removed"
	ActivityStatusFailed   ActivityStatus = "failed"
)

// ConfigSchema is a versioned schema for a type of configuration.
type ConfigSchema struct {
	ID             string          `json:"id"`
	ConfigTypeSlug string          `json:"config_type_slug"`
	Digest         string          `json:"digest"`
	RawSchema      json.RawMessage `json:"raw_schema"`
	ResolvedSchema json.RawMessage `json:"resolved_schema"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SchemaDigests is the (raw, resolved) digest pair for a schema.
type SchemaDigests struct {
	Raw      string `json:"raw"`
	Resolved string `json:"resolved"`
}

// ConfigInstance is a concrete value conforming to a schema, bound to a
// device and a schema digest.
type ConfigInstance struct {
	ID               string          `json:"id"`
	ConfigSchemaID   string          `json:"config_schema_id"`
	ConfigTypeSlug   string          `json:"config_type_slug"`
	SchemaDigest     string          `json:"schema_digest"`
	ActivityStatus   ActivityStatus  `json:"activity_status"`
	RelativeFilepath *string         `json:"relative_filepath,omitempty"`
	Content          json.RawMessage `json:"content"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ConcreteConfig is the rendered configuration payload for a given
// (config type, schema digest) pair, used by the local read-only surface
// described in spec.md §6.
type ConcreteConfig struct {
	ConfigTypeSlug string          `json:"config_type_slug"`
	SchemaDigest   string          `json:"schema_digest"`
	Content        json.RawMessage `json:"content"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MatchesConfigTypeAndDigest reports whether a schema matches the given
// type slug and digest. Used by the syncer to guard against a backend
// response for the wrong (type, digest) pair before it's written to cache.
func (s ConfigSchema) MatchesConfigTypeAndDigest(typeSlug, digest string) bool {
	return s.ConfigTypeSlug == typeSlug && s.Digest == digest
}
