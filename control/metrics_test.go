// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-link/control"
)

func TestMetricsCounters(t *testing.T) {
	m := control.NewMetrics("test")
	m.Registered()
	m.Registered()
	m.Connected()
	m.Disconnected()
	m.Received(3, 120)
	m.FramingRejected("http")

	body := httptest.NewRecorder()
	m.Handler().ServeHTTP(body, httptest.NewRequest("GET", "/metrics", nil))
	out := body.Body.String()

	assert.Contains(t, out, "test_link_connections_live 1")
	assert.Contains(t, out, "test_link_messages_received_total 3")
	assert.Contains(t, out, "test_link_bytes_received_total 120")
	assert.Contains(t, out, `test_link_framing_rejections_total{protocol="http"} 1`)

	count, err := testutil.GatherAndCount(m.Registry(), "test_link_connections_connected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, strings.HasPrefix(body.Header().Get("Content-Type"), "text/plain"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *control.Metrics
	assert.NotPanics(t, func() {
		m.Accepted()
		m.Registered()
		m.Connected()
		m.Disconnected()
		m.Received(1, 1)
		m.BytesSent(1)
		m.MessagesSent(1)
		m.FramingRejected("x")
		m.ReconnectAttempt()
	})
}
