package centrifuge

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min * factor^attempts, capped at max.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64

	// Jitter spreads each delay over [d*(1-Jitter), d]. Zero keeps delays deterministic.
	Jitter float64

	attempts int
}

func NewBackoff(minDelay, maxDelay time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    minDelay,
		Max:    maxDelay,
		Factor: factor,
	}
}

// Duration returns the delay for the current attempt and advances the attempt count.
func (b *Backoff) Duration() time.Duration {
	d := float64(b.Min) * math.Pow(b.Factor, float64(b.attempts))
	b.attempts++

	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d -= d * b.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) Reset() {
	b.attempts = 0
}
