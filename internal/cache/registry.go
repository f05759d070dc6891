package cache

import (
	"errors"
	"path/filepath"

	"github.com/miruml/agent/internal/model"
)

// Directory names under the agent's root, per spec.md §6's filesystem layout.
const (
	ConfigSchemasDirName   = "config_schemas"
	ConfigInstancesDirName = "config_instances"
	DigestsDirName         = "digests"
	ConcreteConfigsDirName = "concrete_configs"
)

// Capacities bundles the per-cache capacity configuration used to build a
// Registry.
type Capacities struct {
	Schemas         int
	ConfigInstances int
	Digests         int
	ConcreteConfigs int
}

// Registry bundles the four on-disk caches the agent maintains, one per
// cache kind named in spec.md §6.
type Registry struct {
	Schemas         *FileCache[SchemaKey, model.ConfigSchema]
	ConfigInstances *FileCache[InstanceKey, model.ConfigInstance]
	Digests         *FileCache[DigestKey, model.SchemaDigests]
	ConcreteConfigs *FileCache[ConcreteConfigKey, model.ConcreteConfig]
}

// NewRegistry opens all four caches rooted under root.
func NewRegistry(root string, cap Capacities) (*Registry, error) {
	schemas, err := New[SchemaKey, model.ConfigSchema](
		filepath.Join(root, ConfigSchemasDirName), cap.Schemas, NeverDirty[SchemaKey, model.ConfigSchema], ParseSchemaKey)
	if err != nil {
		return nil, err
	}

	// Every call site (locally-queued writes, backend pulls, the deploy
	// observer's built-in sink) passes its own mark_dirty flag explicitly,
	// so the policy itself never forces dirtiness.
	instances, err := New[InstanceKey, model.ConfigInstance](
		filepath.Join(root, ConfigInstancesDirName), cap.ConfigInstances, NeverDirty[InstanceKey, model.ConfigInstance], ParseInstanceKey)
	if err != nil {
		return nil, err
	}

	digests, err := New[DigestKey, model.SchemaDigests](
		filepath.Join(root, DigestsDirName), cap.Digests, NeverDirty[DigestKey, model.SchemaDigests], ParseDigestKey)
	if err != nil {
		return nil, err
	}

	concrete, err := New[ConcreteConfigKey, model.ConcreteConfig](
		filepath.Join(root, ConcreteConfigsDirName), cap.ConcreteConfigs, NeverDirty[ConcreteConfigKey, model.ConcreteConfig], ParseConcreteConfigKey)
	if err != nil {
		return nil, err
	}

	return &Registry{
		Schemas:         schemas,
		ConfigInstances: instances,
		Digests:         digests,
		ConcreteConfigs: concrete,
	}, nil
}

// Shutdown flushes and closes all four caches, per spec.md §4.1's
// shutdown() contract. Every cache is given a chance to flush even if an
// earlier one fails; all errors are joined into the return value.
func (r *Registry) Shutdown() error {
	closers := []interface{ Shutdown() error }{r.Schemas, r.ConfigInstances, r.Digests, r.ConcreteConfigs}
	var errs []error
	for _, c := range closers {
		if err := c.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
