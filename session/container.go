// File: session/container.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/core/buffer"
)

// Option configures a ProtocolSessionContainer.
type Option func(*ProtocolSessionContainer)

func WithLogger(l zerolog.Logger) Option {
	return func(c *ProtocolSessionContainer) { c.log = l.With().Str("component", "sessions").Logger() }
}

// ProtocolSessionContainer layers stable session identities over a
// StreamConnectionContainer.
type ProtocolSessionContainer struct {
	conns    *connection.StreamConnectionContainer
	log      zerolog.Logger
	sessions *xsync.MapOf[api.SessionID, *ProtocolSession]
	byConn   *xsync.MapOf[api.ConnectionID, *ProtocolSession]
}

// New creates a session container over conns.
func New(conns *connection.StreamConnectionContainer, opts ...Option) *ProtocolSessionContainer {
	c := &ProtocolSessionContainer{
		conns:    conns,
		log:      zerolog.Nop(),
		sessions: xsync.NewMapOf[api.SessionID, *ProtocolSession](),
		byConn:   xsync.NewMapOf[api.ConnectionID, *ProtocolSession](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connections returns the underlying connection container.
func (c *ProtocolSessionContainer) Connections() *connection.StreamConnectionContainer {
	return c.conns
}

// Bind listens on endpoint; every accepted connection becomes a new session.
func (c *ProtocolSessionContainer) Bind(endpoint string, cb Callback, props connection.BindProps) (*connection.Listener, error) {
	if cb == nil {
		cb = CallbackFuncs{}
	}
	return c.conns.Bind(endpoint, &acceptLink{c: c, cb: cb}, props)
}

// Unbind stops listening; accepted sessions are unaffected.
func (c *ProtocolSessionContainer) Unbind(l *connection.Listener) error {
	return c.conns.Unbind(l)
}

// CreateSession registers an outgoing session whose connection is not yet
// opened. Messages sent to it queue until ConnectSession.
func (c *ProtocolSessionContainer) CreateSession(endpoint string, cb Callback) (*ProtocolSession, error) {
	ep, err := api.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	s := newProtocolSession(ep, cb, true)
	conn, err := c.conns.CreateConnection(endpoint, &sessionLink{c: c, s: s})
	if err != nil {
		return nil, err
	}
	s.conn.Store(conn)
	c.sessions.Store(s.id, s)
	c.byConn.Store(conn.ID(), s)
	return s, nil
}

// Connect creates an outgoing session and starts connecting it.
func (c *ProtocolSessionContainer) Connect(endpoint string, cb Callback, props connection.ConnectProps) (*ProtocolSession, error) {
	s, err := c.CreateSession(endpoint, cb)
	if err != nil {
		return nil, err
	}
	if err := c.ConnectSession(s.id, props); err != nil {
		c.forget(s)
		_ = c.conns.Disconnect(s.ConnectionID())
		return nil, err
	}
	return s, nil
}

// ConnectSession starts connecting a session made by CreateSession.
func (c *ProtocolSessionContainer) ConnectSession(id api.SessionID, props connection.ConnectProps) error {
	s, err := c.GetSession(id)
	if err != nil {
		return err
	}
	return c.conns.ConnectCreated(s.ConnectionID(), props)
}

// SendMessage queues msg on the session's current connection.
func (c *ProtocolSessionContainer) SendMessage(id api.SessionID, msg *buffer.Message) error {
	s, err := c.GetSession(id)
	if err != nil {
		return err
	}
	cur := s.Connection()
	err = c.conns.SendMessage(cur.ID(), msg)
	if err != nil && s.Connection() != cur {
		// replaced between the load and the send
		err = c.conns.SendMessage(s.ConnectionID(), msg)
	}
	return err
}

// Disconnect ends the session and cancels any reconnect. The session is
// unresolvable once Disconnect returns; Disconnected follows on the callback.
// Unknown ids are a no-op.
func (c *ProtocolSessionContainer) Disconnect(id api.SessionID) error {
	s, ok := c.sessions.LoadAndDelete(id)
	if !ok {
		return nil
	}
	s.closing.Store(true)
	for {
		cur := s.Connection()
		if err := c.conns.Disconnect(cur.ID()); err != nil {
			return err
		}
		if s.Connection() == cur {
			return nil
		}
	}
}

// GetSession returns a live session or an ErrNotFound error.
func (c *ProtocolSessionContainer) GetSession(id api.SessionID) (*ProtocolSession, error) {
	s, ok := c.sessions.Load(id)
	if !ok {
		return nil, api.Wrap(api.ErrCodeNotFound, api.ErrNotFound, "get session").WithContext("session", id)
	}
	return s, nil
}

// TryGetSession returns a live session, if any.
func (c *ProtocolSessionContainer) TryGetSession(id api.SessionID) (*ProtocolSession, bool) {
	return c.sessions.Load(id)
}

// SessionForConnection resolves the session currently using connection id.
func (c *ProtocolSessionContainer) SessionForConnection(id api.ConnectionID) (*ProtocolSession, bool) {
	return c.byConn.Load(id)
}

// GetAllSessions returns a snapshot of live sessions ordered by id.
func (c *ProtocolSessionContainer) GetAllSessions() []*ProtocolSession {
	out := make([]*ProtocolSession, 0, c.sessions.Size())
	c.sessions.Range(func(_ api.SessionID, s *ProtocolSession) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (c *ProtocolSessionContainer) forget(s *ProtocolSession) {
	c.sessions.Delete(s.id)
	if conn := s.Connection(); conn != nil {
		c.byConn.Delete(conn.ID())
	}
}

// sessionLink routes connection events of one outgoing session.
type sessionLink struct {
	c *ProtocolSessionContainer
	s *ProtocolSession
}

func (l *sessionLink) Connected(conn *connection.StreamConnection) {
	l.s.callback.Connected(l.s)
}

func (l *sessionLink) Received(conn *connection.StreamConnection, msg *buffer.Message) {
	l.s.callback.Received(l.s, msg)
}

func (l *sessionLink) Replaced(prev, next *connection.StreamConnection) {
	l.s.conn.Store(next)
	l.c.byConn.Delete(prev.ID())
	l.c.byConn.Store(next.ID(), l.s)
	l.c.log.Debug().Uint64("session", uint64(l.s.id)).Uint64("from", uint64(prev.ID())).
		Uint64("to", uint64(next.ID())).Msg("session reconnecting")
	if l.s.closing.Load() {
		_ = l.c.conns.Disconnect(next.ID())
	}
}

func (l *sessionLink) Disconnected(conn *connection.StreamConnection) {
	if l.s.Connection() == conn {
		l.c.forget(l.s)
		l.s.end()
	} else {
		l.c.byConn.Delete(conn.ID())
	}
	l.s.callback.Disconnected(l.s)
}

// acceptLink creates a session per connection accepted on a bound endpoint.
type acceptLink struct {
	c  *ProtocolSessionContainer
	cb Callback
}

func (l *acceptLink) Connected(conn *connection.StreamConnection) {
	s := newProtocolSession(conn.Endpoint(), l.cb, false)
	s.conn.Store(conn)
	l.c.sessions.Store(s.id, s)
	l.c.byConn.Store(conn.ID(), s)
	l.c.log.Debug().Uint64("session", uint64(s.id)).Str("peer", conn.RemoteAddr()).Msg("session accepted")
	s.callback.Connected(s)
}

func (l *acceptLink) Received(conn *connection.StreamConnection, msg *buffer.Message) {
	if s, ok := l.c.byConn.Load(conn.ID()); ok {
		s.callback.Received(s, msg)
	}
}

func (l *acceptLink) Disconnected(conn *connection.StreamConnection) {
	s, ok := l.c.byConn.LoadAndDelete(conn.ID())
	if !ok {
		return
	}
	l.c.sessions.Delete(s.id)
	s.end()
	s.callback.Disconnected(s)
}

// String renders a session for logs.
func (s *ProtocolSession) String() string {
	return fmt.Sprintf("session %d (%s, connection %d)", s.id, s.endpoint, s.ConnectionID())
}
