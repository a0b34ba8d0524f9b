// File: connection/props.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"time"

	"github.com/momentics/hioload-link/protocol"
)

// BindProps tunes a listening endpoint.
type BindProps struct {
	// Backlog is the listen queue length; 0 selects the container default.
	Backlog int
}

// ConnectProps tunes an outgoing connection. A zero ReconnectInterval
// disables reconnecting: the first failure or drop is terminal.
type ConnectProps struct {
	ReconnectInterval time.Duration
	// Multiplier grows the interval after each failed attempt. Values below 1 mean 1.
	Multiplier  float64
	MaxInterval time.Duration
	// MaxReconnectAttempts caps retries after the first attempt; 0 is unlimited.
	MaxReconnectAttempts int
	// ReconnectExpiry caps the time spent reconnecting; 0 is unlimited.
	ReconnectExpiry time.Duration
	// ConnectTimeout fails a connect attempt that has not completed in time; 0 disables it.
	ConnectTimeout time.Duration
	// Jitter spreads each reconnect delay over [0.5, 1.5) of its nominal value.
	Jitter bool
}

// Reconnects reports whether the props enable reconnecting.
func (p ConnectProps) Reconnects() bool {
	return p.ReconnectInterval > 0
}

// WithProtocolDefaults fills an unset reconnect policy from a protocol that carries one.
func (p ConnectProps) WithProtocolDefaults(fp protocol.FramingProtocol) ConnectProps {
	if p.Reconnects() {
		return p
	}
	r, ok := fp.(protocol.Reconnector)
	if !ok {
		return p
	}
	policy, ok := r.ReconnectPolicy()
	if !ok {
		return p
	}
	p.ReconnectInterval = policy.Interval
	p.ReconnectExpiry = policy.Expiry
	p.MaxReconnectAttempts = policy.MaxAttempts
	return p
}

func (p ConnectProps) backoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: p.ReconnectInterval,
		Multiplier:   p.Multiplier,
		MaxDelay:     p.MaxInterval,
		Jitter:       p.Jitter,
	}
}
