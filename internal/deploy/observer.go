// Package deploy implements the ordered observer fan-out spec.md §4.6
// describes, grounded on original_source's deploy/observer.rs Observer
// trait and its on_update free function.
package deploy

import (
	"context"

	"github.com/miruml/agent/internal/model"
)

// Observer is notified whenever a config instance is deployed, removed, or
// otherwise updated. Returning an error aborts the remaining fan-out for
// that event.
type Observer interface {
	OnUpdate(ctx context.Context, instance model.ConfigInstance) error
}

// Bus holds an ordered list of observers and notifies them sequentially in
// registration order.
type Bus struct {
	observers []Observer
}

// NewBus creates an empty observer bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register appends an observer to the end of the notification order.
func (b *Bus) Register(o Observer) {
	b.observers = append(b.observers, o)
}

// Notify delivers instance to each registered observer in registration
// order, stopping and returning the first error encountered.
func (b *Bus) Notify(ctx context.Context, instance model.ConfigInstance) error {
	for _, o := range b.observers {
		if err := o.OnUpdate(ctx, instance); err != nil {
			return err
		}
	}
	return nil
}
