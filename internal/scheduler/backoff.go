package scheduler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// backoff computes capped exponential delays with jitter between failed
// coordinator ticks.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// Delay returns the wait before the next tick after the given number of
// consecutive failures. The result lies in [d/2, d] where d doubles per
// failure up to max.
func (b backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := float64(b.initial) * math.Pow(2, float64(failures-1))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
