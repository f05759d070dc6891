package syncer

import "time"

// Cooldown computes the exponential backoff delay a dirty entry waits
// between retries after a transient push failure, defaults matching
// original_source's CooldownOptions::default() (15s base, 2x growth,
// capped at 12h).
type Cooldown struct {
	BaseSecs     int64
	GrowthFactor int64
	MaxSecs      int64
}

// DefaultCooldown returns the spec.md-mandated default cooldown.
func DefaultCooldown() Cooldown {
	return Cooldown{BaseSecs: 15, GrowthFactor: 2, MaxSecs: 12 * 60 * 60}
}

// Delay returns base * factor^attempt, capped at max. attempt is 0 for the
// first retry after an initial failure.
func (c Cooldown) Delay(attempt int) time.Duration {
	secs := c.BaseSecs
	for i := 0; i < attempt; i++ {
		secs *= c.GrowthFactor
		if secs >= c.MaxSecs {
			secs = c.MaxSecs
			break
		}
	}
	if secs > c.MaxSecs {
		secs = c.MaxSecs
	}
	return time.Duration(secs) * time.Second
}
