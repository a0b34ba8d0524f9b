// File: connection/backoff_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/protocol"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := connection.BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, connection.NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, connection.NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, 400*time.Millisecond, connection.NextBackoffDelay(cfg, 3, nil))
	assert.Equal(t, time.Second, connection.NextBackoffDelay(cfg, 10, nil))

	cfg.Multiplier = 0
	assert.Equal(t, 100*time.Millisecond, connection.NextBackoffDelay(cfg, 5, nil))

	cfg.Jitter = true
	d := connection.NextBackoffDelay(cfg, 3, rand.New(rand.NewSource(1)))
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.Less(t, d, 150*time.Millisecond)

	first := connection.NextBackoffDelay(cfg, 1, rand.New(rand.NewSource(2)))
	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.Less(t, first, 150*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, connection.NextBackoffDelay(cfg, 3, nil))

	assert.Zero(t, connection.NextBackoffDelay(connection.BackoffConfig{}, 4, nil))
}

func TestConnectPropsProtocolDefaults(t *testing.T) {
	hl := protocol.NewHeaderLength(4, 0).WithReconnect(20*time.Millisecond, time.Second, 3)

	p := connection.ConnectProps{}.WithProtocolDefaults(hl)
	assert.True(t, p.Reconnects())
	assert.Equal(t, 20*time.Millisecond, p.ReconnectInterval)
	assert.Equal(t, time.Second, p.ReconnectExpiry)
	assert.Equal(t, 3, p.MaxReconnectAttempts)

	explicit := connection.ConnectProps{ReconnectInterval: time.Minute}.WithProtocolDefaults(hl)
	assert.Equal(t, time.Minute, explicit.ReconnectInterval)

	plain := connection.ConnectProps{}.WithProtocolDefaults(protocol.NewDelimiter(1, "d", []byte("\n")))
	assert.False(t, plain.Reconnects())
}
