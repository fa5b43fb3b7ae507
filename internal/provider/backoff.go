package provider

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines jittered exponential backoff between provider
// retries.
type BackoffPolicy struct {
	// InitialMs is the base delay for the first retry, in milliseconds.
	InitialMs float64
	// MaxMs caps the delay.
	MaxMs float64
	// Factor is the per-attempt multiplier.
	Factor float64
	// Jitter in [0,1] randomizes the delay upward by up to that fraction.
	Jitter float64
}

// DefaultBackoff is the retry policy for transient provider errors:
// 1s base, doubling, capped at 10s, 10% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 1000,
		MaxMs:     10000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Delay returns the backoff duration for attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (p BackoffPolicy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(p.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}
