package deploy

import (
	"context"

	"github.com/miruml/agent/internal/cache"
	"github.com/miruml/agent/internal/model"
)

// StorageObserver is the built-in sink that writes a deployed config
// instance into the config-instance cache. It writes with mark_dirty=false
// per spec.md §4.6: after a deploy push the backend is already the source
// of truth for that instance's content, overriding original_source's
// deploy/observer.rs which marked the write dirty.
type StorageObserver struct {
	Instances *cache.FileCache[cache.InstanceKey, model.ConfigInstance]
}

// NewStorageObserver wraps the config-instance cache as an Observer.
func NewStorageObserver(instances *cache.FileCache[cache.InstanceKey, model.ConfigInstance]) *StorageObserver {
	return &StorageObserver{Instances: instances}
}

func (s *StorageObserver) OnUpdate(_ context.Context, instance model.ConfigInstance) error {
	return s.Instances.Write(cache.InstanceKey{ID: instance.ID}, instance, false)
}
