package cache

import (
	"fmt"
	"strings"
)

// SEP separates the components of a composite key in its rendered (and
// filesystem) form, per spec.md §6.
const SEP = "__SEP__"

// Key is anything a FileCache can use as an entry key: it must render to a
// stable string identity usable both as a map key and a filename.
type Key interface {
	Render() string
}

// SchemaKey identifies a schema by its config type and content digest.
type SchemaKey struct {
	ConfigTypeSlug string
	SchemaDigest   string
}

func (k SchemaKey) Render() string {
	return k.ConfigTypeSlug + SEP + k.SchemaDigest
}

// ParseSchemaKey decodes a rendered SchemaKey back into its components.
func ParseSchemaKey(rendered string) (SchemaKey, error) {
	slug, digest, ok := splitPair(rendered)
	if !ok {
		return SchemaKey{}, fmt.Errorf("cache: invalid schema key %q", rendered)
	}
	return SchemaKey{ConfigTypeSlug: slug, SchemaDigest: digest}, nil
}

// InstanceKey identifies a config instance by its backend id.
type InstanceKey struct {
	ID string
}

func (k InstanceKey) Render() string {
	return k.ID
}

// ParseInstanceKey decodes a rendered InstanceKey.
func ParseInstanceKey(rendered string) (InstanceKey, error) {
	if rendered == "" {
		return InstanceKey{}, fmt.Errorf("cache: invalid instance key %q", rendered)
	}
	return InstanceKey{ID: rendered}, nil
}

// DigestKey identifies a (raw, resolved) digest pair by config type, the
// raw/resolved split living in the value rather than the key.
type DigestKey struct {
	ConfigTypeSlug string
}

func (k DigestKey) Render() string {
	return k.ConfigTypeSlug
}

// ParseDigestKey decodes a rendered DigestKey.
func ParseDigestKey(rendered string) (DigestKey, error) {
	if rendered == "" {
		return DigestKey{}, fmt.Errorf("cache: invalid digest key %q", rendered)
	}
	return DigestKey{ConfigTypeSlug: rendered}, nil
}

// ConcreteConfigKey identifies a rendered configuration by config type and
// schema digest. Deliberately key-compatible with SchemaKey's rendering, per
// spec.md §9's open question on unifying the two cache domains later.
type ConcreteConfigKey struct {
	ConfigTypeSlug string
	SchemaDigest   string
}

func (k ConcreteConfigKey) Render() string {
	return k.ConfigTypeSlug + SEP + k.SchemaDigest
}

// ParseConcreteConfigKey decodes a rendered ConcreteConfigKey.
func ParseConcreteConfigKey(rendered string) (ConcreteConfigKey, error) {
	slug, digest, ok := splitPair(rendered)
	if !ok {
		return ConcreteConfigKey{}, fmt.Errorf("cache: invalid concrete config key %q", rendered)
	}
	return ConcreteConfigKey{ConfigTypeSlug: slug, SchemaDigest: digest}, nil
}

func splitPair(rendered string) (a, b string, ok bool) {
	parts := strings.SplitN(rendered, SEP, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
