package syncer

import (
	"testing"
	"time"
)

func TestCooldown_Delay_ExponentialGrowth(t *testing.T) {
	c := DefaultCooldown()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 15 * time.Second},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := c.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestCooldown_Delay_CapsAtMax(t *testing.T) {
	c := Cooldown{BaseSecs: 15, GrowthFactor: 2, MaxSecs: 40}

	if got, want := c.Delay(0), 15*time.Second; got != want {
		t.Errorf("Delay(0) = %v, want %v", got, want)
	}
	if got, want := c.Delay(1), 30*time.Second; got != want {
		t.Errorf("Delay(1) = %v, want %v", got, want)
	}
	if got, want := c.Delay(5), 40*time.Second; got != want {
		t.Errorf("Delay(5) = %v, want %v (capped)", got, want)
	}
}
