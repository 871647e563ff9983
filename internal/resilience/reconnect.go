package resilience

import (
	"math/rand"
	"sync"
	"time"
)

// ReconnectPolicy decides whether and when a dropped streaming connection is
// re-dialled.
type ReconnectPolicy struct {
	MaxAttempts  int           // Reconnects allowed before giving up
	BaseDelay    time.Duration // Delay before the first reconnect
	MaxDelay     time.Duration // Cap for the exponential growth
	JitterFactor float64       // Fraction of the delay added or removed at random

	// Rand returns a value in [0,1). Nil uses a shared math/rand source.
	Rand func() float64
}

// DefaultReconnectPolicy returns the policy used by the STT adapters.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
	}
}

// Allows reports whether another reconnect may be scheduled after attempts
// reconnects have already been made.
func (p ReconnectPolicy) Allows(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Delay returns min(base*2^attempt, max) shifted by up to ±JitterFactor of itself.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := CalculateBackoff(attempt, p.BaseDelay, p.MaxDelay, 2.0)
	if p.JitterFactor <= 0 {
		return d
	}

	r := p.Rand
	if r == nil {
		r = sharedFloat64
	}
	noise := (r()*2 - 1) * p.JitterFactor * float64(d)
	if jittered := time.Duration(float64(d) + noise); jittered > 0 {
		return jittered
	}
	return 0
}

var (
	randMu  sync.Mutex
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func sharedFloat64() float64 {
	randMu.Lock()
	defer randMu.Unlock()
	return randSrc.Float64()
}
