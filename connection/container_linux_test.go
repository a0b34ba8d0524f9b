//go:build linux

package connection_test

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/protocol"
)

const waitFor = 3 * time.Second

type recorder struct {
	connected    chan *connection.StreamConnection
	disconnected chan *connection.StreamConnection
	received     chan string
	replaced     chan [2]*connection.StreamConnection
	onReceived   func(c *connection.StreamConnection, msg *buffer.Message)
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan *connection.StreamConnection, 16),
		disconnected: make(chan *connection.StreamConnection, 16),
		received:     make(chan string, 64),
		replaced:     make(chan [2]*connection.StreamConnection, 16),
	}
}

func (r *recorder) Connected(c *connection.StreamConnection)    { r.connected <- c }
func (r *recorder) Disconnected(c *connection.StreamConnection) { r.disconnected <- c }

func (r *recorder) Received(c *connection.StreamConnection, msg *buffer.Message) {
	r.received <- string(msg.Payload())
	if r.onReceived != nil {
		r.onReceived(c, msg)
	}
}

func (r *recorder) Replaced(prev, next *connection.StreamConnection) {
	r.replaced <- [2]*connection.StreamConnection{prev, next}
}

func next[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func none[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(100 * time.Millisecond):
	}
}

func newContainer(t *testing.T, opts ...connection.Option) *connection.StreamConnectionContainer {
	t.Helper()
	opts = append([]connection.Option{connection.WithConfig(connection.Config{
		PollTimeout:            50 * time.Millisecond,
		CheckReconnectInterval: 5 * time.Millisecond,
	})}, opts...)
	c, err := connection.New(opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func bind(t *testing.T, c *connection.StreamConnectionContainer, proto string, cb connection.Callback) (*connection.Listener, string) {
	t.Helper()
	l, err := c.Bind("tcp://127.0.0.1:0:"+proto, cb, connection.BindProps{})
	require.NoError(t, err)
	require.NotZero(t, l.Port())
	return l, fmt.Sprintf("tcp://127.0.0.1:%d:%s", l.Port(), proto)
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestBindConnectEcho(t *testing.T) {
	c := newContainer(t)

	server := newRecorder()
	server.onReceived = func(conn *connection.StreamConnection, msg *buffer.Message) {
		assert.NoError(t, c.SendMessage(conn.ID(), buffer.NewStringMessage("echo:"+string(msg.Payload()))))
	}
	_, endpoint := bind(t, c, "delimiter", server)

	client := newRecorder()
	conn, err := c.Connect(endpoint, client, connection.ConnectProps{})
	require.NoError(t, err)
	assert.True(t, conn.Outgoing())

	got := next(t, client.connected, "client connected")
	assert.Same(t, conn, got)
	assert.Equal(t, api.StateConnected, conn.State())
	accepted := next(t, server.connected, "server connected")
	assert.False(t, accepted.Outgoing())
	assert.NotEmpty(t, accepted.RemoteAddr())

	require.NoError(t, c.SendMessage(conn.ID(), buffer.NewStringMessage("ping")))
	require.NoError(t, c.SendMessage(conn.ID(), buffer.NewStringMessage("pong")))
	assert.Equal(t, "ping", next(t, server.received, "server received"))
	assert.Equal(t, "pong", next(t, server.received, "server received"))
	assert.Equal(t, "echo:ping", next(t, client.received, "client received"))
	assert.Equal(t, "echo:pong", next(t, client.received, "client received"))

	found, err := c.GetConnection(conn.ID())
	require.NoError(t, err)
	assert.Same(t, conn, found)
	assert.Len(t, c.GetAllConnections(), 2)
}

func TestQueuedMessagesFlushOnConnect(t *testing.T) {
	c := newContainer(t)
	server := newRecorder()
	_, endpoint := bind(t, c, "delimiter_long", server)

	client := newRecorder()
	conn, err := c.CreateConnection(endpoint, client)
	require.NoError(t, err)
	assert.Equal(t, api.StateConnecting, conn.State())

	for i := range 3 {
		require.NoError(t, c.SendMessage(conn.ID(), buffer.NewStringMessage(fmt.Sprintf("m%d", i))))
	}
	assert.Equal(t, 3, conn.Pending())
	none(t, server.connected, "connect before ConnectCreated")

	require.NoError(t, c.ConnectCreated(conn.ID(), connection.ConnectProps{}))
	require.ErrorIs(t, c.ConnectCreated(conn.ID(), connection.ConnectProps{}), api.ErrInvalidState)

	next(t, client.connected, "client connected")
	for i := range 3 {
		assert.Equal(t, fmt.Sprintf("m%d", i), next(t, server.received, "queued message"))
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := newContainer(t)
	server := newRecorder()
	_, endpoint := bind(t, c, "delimiter", server)

	client := newRecorder()
	conn, err := c.Connect(endpoint, client, connection.ConnectProps{})
	require.NoError(t, err)
	next(t, client.connected, "client connected")
	next(t, server.connected, "server connected")

	snapshot := c.GetAllConnections()
	require.NoError(t, c.Disconnect(conn.ID()))
	require.NoError(t, c.Disconnect(conn.ID()))

	_, ok := c.TryGetConnection(conn.ID())
	assert.False(t, ok)
	_, err = c.GetConnection(conn.ID())
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Contains(t, snapshot, conn)

	assert.Same(t, conn, next(t, client.disconnected, "client disconnected"))
	none(t, client.disconnected, "second disconnect")
	next(t, server.disconnected, "server saw peer close")

	err = c.SendMessage(conn.ID(), buffer.NewStringMessage("late"))
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestFramingViolationDisconnects(t *testing.T) {
	reg := protocol.NewRegistry()
	reg.Register(protocol.IDHeaderSize, "headersize", func() protocol.FramingProtocol {
		return protocol.NewHeaderLength(4, 8)
	})
	c := newContainer(t, connection.WithRegistry(reg))
	server := newRecorder()
	l, _ := bind(t, c, "headersize", server)

	raw, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	next(t, server.connected, "server connected")

	frame := make([]byte, 4)
	binary.BigEndian.PutUint32(frame, 100)
	_, err = raw.Write(frame)
	require.NoError(t, err)

	next(t, server.disconnected, "server disconnected")
	none(t, server.received, "message")

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = raw.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectFailureWithoutReconnect(t *testing.T) {
	c := newContainer(t)
	client := newRecorder()
	conn, err := c.Connect(fmt.Sprintf("tcp://127.0.0.1:%d:delimiter", closedPort(t)), client, connection.ConnectProps{})
	require.NoError(t, err)

	assert.Same(t, conn, next(t, client.disconnected, "disconnected"))
	none(t, client.connected, "connected")
	none(t, client.disconnected, "second disconnect")
	_, ok := c.TryGetConnection(conn.ID())
	assert.False(t, ok)
}

func TestReconnectExpires(t *testing.T) {
	c := newContainer(t)
	client := newRecorder()
	props := connection.ConnectProps{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}
	conn, err := c.Connect(fmt.Sprintf("tcp://127.0.0.1:%d:headersize", closedPort(t)), client, props)
	require.NoError(t, err)

	assert.Same(t, conn, next(t, client.disconnected, "disconnected"))
	none(t, client.disconnected, "second disconnect")
	none(t, client.connected, "connected")
	assert.Equal(t, api.StateDisconnected, conn.State())
	_, ok := c.TryGetConnection(conn.ID())
	assert.False(t, ok)
}

func TestReconnectReplacesDroppedConnection(t *testing.T) {
	c := newContainer(t)
	server := newRecorder()
	_, endpoint := bind(t, c, "delimiter", server)

	client := newRecorder()
	first, err := c.Connect(endpoint, client, connection.ConnectProps{ReconnectInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	next(t, client.connected, "first connected")
	accepted := next(t, server.connected, "server connected")

	require.NoError(t, c.Disconnect(accepted.ID()))

	pair := next(t, client.replaced, "replacement")
	assert.Same(t, first, pair[0])
	second := pair[1]
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, first, next(t, client.disconnected, "first disconnected"))

	assert.Same(t, second, next(t, client.connected, "second connected"))
	require.NoError(t, c.SendMessage(second.ID(), buffer.NewStringMessage("again")))
	assert.Equal(t, "again", next(t, server.received, "message over replacement"))

	require.NoError(t, c.Disconnect(second.ID()))
	assert.Same(t, second, next(t, client.disconnected, "second disconnected"))
	none(t, client.replaced, "replacement after explicit disconnect")
}

func TestUnbindStopsAccepting(t *testing.T) {
	c := newContainer(t)
	server := newRecorder()
	l, _ := bind(t, c, "delimiter", server)
	addr := l.Addr().String()

	require.NoError(t, c.Unbind(l))
	require.NoError(t, c.Unbind(l))
	require.Eventually(t, func() bool { return len(c.Listeners()) == 0 }, waitFor, 5*time.Millisecond)

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestStopDisconnectsEverything(t *testing.T) {
	c, err := connection.New()
	require.NoError(t, err)
	require.NoError(t, c.Start())

	server := newRecorder()
	_, endpoint := bind(t, c, "delimiter", server)
	client := newRecorder()
	_, err = c.Connect(endpoint, client, connection.ConnectProps{ReconnectInterval: time.Millisecond})
	require.NoError(t, err)
	next(t, client.connected, "client connected")
	next(t, server.connected, "server connected")

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	next(t, client.disconnected, "client disconnected")
	next(t, server.disconnected, "server disconnected")
	none(t, client.replaced, "replacement during stop")
	assert.Empty(t, c.GetAllConnections())
	assert.Empty(t, c.Listeners())

	_, err = c.Connect(endpoint, client, connection.ConnectProps{})
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestResolveErrors(t *testing.T) {
	c := newContainer(t)
	_, err := c.Connect("tcp://127.0.0.1:1", nil, connection.ConnectProps{})
	assert.ErrorIs(t, err, api.ErrUnknownProtocol)
	_, err = c.Connect("tcp://127.0.0.1:1:nope", nil, connection.ConnectProps{})
	assert.ErrorIs(t, err, api.ErrUnknownProtocol)
	_, err = c.Bind("udp://*:0:delimiter", nil, connection.BindProps{})
	assert.ErrorIs(t, err, api.ErrInvalidEndpoint)
	assert.ErrorIs(t, c.SendMessage(424242, buffer.NewStringMessage("x")), api.ErrNotFound)
	assert.NoError(t, c.Disconnect(424242))
}
