package sync

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base * 2^attempt, capped, plus up to 20%
// jitter so a burst of failures does not retry in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before retry number attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 5 * time.Minute
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}

	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	d += jitter
	if d > cap {
		d = cap
	}
	return d
}
