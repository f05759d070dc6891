// Package activity tracks when the agent last did something meaningful,
// for the local server's health surface (spec.md §4.7).
package activity

import (
	"sync/atomic"
	"time"
)

// Tracker records the most recent touch as a UnixNano timestamp.
type Tracker struct {
	lastTouchedNanos atomic.Int64
}

// NewTracker creates a tracker touched at construction time.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Touch()
	return t
}

// Touch records now as the most recent activity instant.
func (t *Tracker) Touch() {
	t.lastTouchedNanos.Store(time.Now().UnixNano())
}

// LastTouched returns the instant of the most recent Touch call.
func (t *Tracker) LastTouched() time.Time {
	return time.Unix(0, t.lastTouchedNanos.Load())
}
