//go:build linux

package session_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/session"
)

const waitFor = 3 * time.Second

type recorder struct {
	connected    chan *session.ProtocolSession
	disconnected chan *session.ProtocolSession
	received     chan string
	onReceived   func(s *session.ProtocolSession, msg *buffer.Message)
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan *session.ProtocolSession, 16),
		disconnected: make(chan *session.ProtocolSession, 16),
		received:     make(chan string, 64),
	}
}

func (r *recorder) Connected(s *session.ProtocolSession)    { r.connected <- s }
func (r *recorder) Disconnected(s *session.ProtocolSession) { r.disconnected <- s }

func (r *recorder) Received(s *session.ProtocolSession, msg *buffer.Message) {
	r.received <- string(msg.Payload())
	if r.onReceived != nil {
		r.onReceived(s, msg)
	}
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

func newSessions(t *testing.T) *session.ProtocolSessionContainer {
	t.Helper()
	conns, err := connection.New(connection.WithConfig(connection.Config{
		PollTimeout:            50 * time.Millisecond,
		CheckReconnectInterval: 5 * time.Millisecond,
	}))
	require.NoError(t, err)
	require.NoError(t, conns.Start())
	t.Cleanup(func() { _ = conns.Stop() })
	return session.New(conns)
}

func bind(t *testing.T, c *session.ProtocolSessionContainer, proto string, cb session.Callback) string {
	t.Helper()
	l, err := c.Bind("tcp://127.0.0.1:0:"+proto, cb, connection.BindProps{})
	require.NoError(t, err)
	return fmt.Sprintf("tcp://127.0.0.1:%d:%s", l.Port(), proto)
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestConnectGetDisconnect(t *testing.T) {
	c := newSessions(t)
	server := newRecorder()
	server.onReceived = func(s *session.ProtocolSession, msg *buffer.Message) {
		assert.NoError(t, c.SendMessage(s.ID(), buffer.NewStringMessage("re:"+string(msg.Payload()))))
	}
	endpoint := bind(t, c, "delimiter", server)

	client := newRecorder()
	s, err := c.Connect(endpoint, client, connection.ConnectProps{})
	require.NoError(t, err)
	assert.True(t, s.Outgoing())

	got, err := c.GetSession(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.Same(t, s, next(t, client.connected, "client connected"))
	accepted := next(t, server.connected, "server connected")
	assert.False(t, accepted.Outgoing())
	bySocket, ok := c.SessionForConnection(accepted.ConnectionID())
	require.True(t, ok)
	assert.Same(t, accepted, bySocket)

	require.NoError(t, c.SendMessage(s.ID(), buffer.NewStringMessage("hello")))
	assert.Equal(t, "hello", next(t, server.received, "server received"))
	assert.Equal(t, "re:hello", next(t, client.received, "client received"))

	snapshot := c.GetAllSessions()
	require.Len(t, snapshot, 2)
	connID := s.ConnectionID()

	require.NoError(t, c.Disconnect(s.ID()))
	require.NoError(t, c.Disconnect(s.ID()))
	_, ok = c.TryGetSession(s.ID())
	assert.False(t, ok)
	_, err = c.GetSession(s.ID())
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Contains(t, snapshot, s)

	assert.Same(t, s, next(t, client.disconnected, "client disconnected"))
	none(t, client.disconnected, "second disconnect")
	assert.Same(t, accepted, next(t, server.disconnected, "server disconnected"))
	<-s.Done()
	<-accepted.Done()
	_, ok = c.Connections().TryGetConnection(connID)
	assert.False(t, ok)
	assert.ErrorIs(t, c.SendMessage(s.ID(), buffer.NewStringMessage("late")), api.ErrNotFound)
}

func TestCreateSessionQueuesUntilConnect(t *testing.T) {
	c := newSessions(t)
	server := newRecorder()
	endpoint := bind(t, c, "delimiter_long", server)

	client := newRecorder()
	s, err := c.CreateSession(endpoint, client)
	require.NoError(t, err)
	assert.Equal(t, api.StateConnecting, s.State())
	require.NoError(t, c.SendMessage(s.ID(), buffer.NewStringMessage("first")))
	require.NoError(t, c.SendMessage(s.ID(), buffer.NewStringMessage("second")))
	none(t, server.connected, "connect before ConnectSession")

	require.NoError(t, c.ConnectSession(s.ID(), connection.ConnectProps{}))
	next(t, client.connected, "client connected")
	assert.Equal(t, "first", next(t, server.received, "first"))
	assert.Equal(t, "second", next(t, server.received, "second"))
	assert.Equal(t, api.StateConnected, s.State())
}

func TestReconnectExpiryEndsSession(t *testing.T) {
	c := newSessions(t)
	client := newRecorder()
	props := connection.ConnectProps{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
	s, err := c.Connect(fmt.Sprintf("tcp://127.0.0.1:%d:delimiter", closedPort(t)), client, props)
	require.NoError(t, err)

	assert.Same(t, s, next(t, client.disconnected, "disconnected"))
	none(t, client.disconnected, "second disconnect")
	none(t, client.connected, "connected")
	_, ok := c.TryGetSession(s.ID())
	assert.False(t, ok)
	select {
	case <-s.Done():
	default:
		t.Fatal("session not ended")
	}
}

func TestSessionSurvivesReconnect(t *testing.T) {
	c := newSessions(t)
	server := newRecorder()
	endpoint := bind(t, c, "headersize", server)

	client := newRecorder()
	s, err := c.Connect(endpoint, client, connection.ConnectProps{ReconnectInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	s.Attributes().Set("user", "bob")
	next(t, client.connected, "first connected")
	accepted := next(t, server.connected, "server connected")
	first := s.ConnectionID()

	require.NoError(t, c.Disconnect(accepted.ID()))
	assert.Same(t, s, next(t, client.disconnected, "first connection dropped"))
	require.NoError(t, c.SendMessage(s.ID(), buffer.NewStringMessage("during reconnect")))

	assert.Same(t, s, next(t, client.connected, "reconnected"))
	assert.NotEqual(t, first, s.ConnectionID())
	got, err := c.GetSession(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	v, _ := s.Attributes().Get("user")
	assert.Equal(t, "bob", v)
	_, ok := c.SessionForConnection(first)
	assert.False(t, ok)

	next(t, server.connected, "server accepted replacement")
	assert.Equal(t, "during reconnect", next(t, server.received, "queued message"))

	require.NoError(t, c.Disconnect(s.ID()))
	assert.Same(t, s, next(t, client.disconnected, "terminal disconnect"))
	none(t, client.connected, "reconnect after Disconnect")
	<-s.Done()
}

func TestSessionErrors(t *testing.T) {
	c := newSessions(t)
	_, err := c.Connect("tcp://127.0.0.1:1:nope", nil, connection.ConnectProps{})
	assert.ErrorIs(t, err, api.ErrUnknownProtocol)
	_, err = c.CreateSession("bogus", nil)
	assert.ErrorIs(t, err, api.ErrInvalidEndpoint)
	assert.ErrorIs(t, c.SendMessage(98765, buffer.NewStringMessage("x")), api.ErrNotFound)
	assert.ErrorIs(t, c.ConnectSession(98765, connection.ConnectProps{}), api.ErrNotFound)
	assert.NoError(t, c.Disconnect(98765))
	assert.Empty(t, c.GetAllSessions())
}
