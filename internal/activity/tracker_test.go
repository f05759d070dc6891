package activity

import (
	"testing"
	"time"
)

func TestTracker_TouchAdvancesLastTouched(t *testing.T) {
	tr := NewTracker()
	first := tr.LastTouched()

	time.Sleep(time.Millisecond)
	tr.Touch()
	second := tr.LastTouched()

	if !second.After(first) {
		t.Errorf("expected second touch (%v) after first (%v)", second, first)
	}
}
