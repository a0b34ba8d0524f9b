// File: connection/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig describes a capped exponential retry schedule.
// Multiplier values below 1 mean a fixed interval.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the delay before reconnect attempt n (1-based).
// With Jitter and a non-nil rng the delay is scaled by a factor in [0.5, 1.5).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		delay *= math.Pow(max(cfg.Multiplier, 1), float64(attempt-1))
	}
	if cfg.MaxDelay > 0 {
		delay = min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}
