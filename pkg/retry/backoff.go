package retry

import (
	"math/rand"
	"time"
)

// Backoff computes exponential delays with ±20% jitter.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps a single delay, jitter included.
	Max time.Duration

	// Multiplier is the growth factor per retry.
	Multiplier float64
}

// DefaultBackoff returns the default backoff: 1s doubling up to 10s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       1 * time.Second,
		Max:        10 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay returns the jittered delay before retry number n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}

	// Add jitter (±20% randomness)
	jittered := time.Duration(d * (0.8 + rand.Float64()*0.4))
	if b.Max > 0 && jittered > b.Max {
		jittered = b.Max
	}
	return jittered
}
