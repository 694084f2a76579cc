package runner

import (
	"math/rand/v2"
	"time"
)

// Backoff is the delay before rerun attempt+1: 800ms doubling per attempt,
// capped at 20s, with +/-20% jitter. attempt is 1-based.
func Backoff(attempt int) time.Duration {
	base := 800 * time.Millisecond
	if attempt <= 1 {
		return jitter(base)
	}
	d := base * time.Duration(1<<uint(min(attempt-1, 6)))
	if d > 20*time.Second {
		d = 20 * time.Second
	}
	return jitter(d)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * f)
}

// Splay picks a uniform delay in [0, window).
func Splay(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}
