// File: session/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/core/buffer"
)

// Callback receives session notifications on the poll goroutine. Connected
// and Disconnected are delivered once per underlying connection instance, so
// a session that reconnects sees one pair per connection.
type Callback interface {
	Connected(s *ProtocolSession)
	Disconnected(s *ProtocolSession)
	Received(s *ProtocolSession, msg *buffer.Message)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	OnConnected    func(s *ProtocolSession)
	OnDisconnected func(s *ProtocolSession)
	OnReceived     func(s *ProtocolSession, msg *buffer.Message)
}

func (f CallbackFuncs) Connected(s *ProtocolSession) {
	if f.OnConnected != nil {
		f.OnConnected(s)
	}
}

func (f CallbackFuncs) Disconnected(s *ProtocolSession) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(s)
	}
}

func (f CallbackFuncs) Received(s *ProtocolSession, msg *buffer.Message) {
	if f.OnReceived != nil {
		f.OnReceived(s, msg)
	}
}

// ProtocolSession is a stable identity over a sequence of connections to
// the same peer.
type ProtocolSession struct {
	id       api.SessionID
	endpoint api.Endpoint
	callback Callback
	outgoing bool
	attrs    *Attributes

	conn    atomic.Pointer[connection.StreamConnection]
	closing atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newProtocolSession(ep api.Endpoint, cb Callback, outgoing bool) *ProtocolSession {
	if cb == nil {
		cb = CallbackFuncs{}
	}
	return &ProtocolSession{
		id:       api.NextSessionID(),
		endpoint: ep,
		callback: cb,
		outgoing: outgoing,
		attrs:    NewAttributes(),
		done:     make(chan struct{}),
	}
}

func (s *ProtocolSession) ID() api.SessionID       { return s.id }
func (s *ProtocolSession) Endpoint() api.Endpoint  { return s.endpoint }
func (s *ProtocolSession) Outgoing() bool          { return s.outgoing }
func (s *ProtocolSession) Attributes() *Attributes { return s.attrs }

// Connection returns the current underlying connection.
func (s *ProtocolSession) Connection() *connection.StreamConnection {
	return s.conn.Load()
}

// ConnectionID returns the id of the current underlying connection.
func (s *ProtocolSession) ConnectionID() api.ConnectionID {
	if c := s.conn.Load(); c != nil {
		return c.ID()
	}
	return 0
}

// State returns the state of the current underlying connection.
func (s *ProtocolSession) State() api.ConnectionState {
	if c := s.conn.Load(); c != nil {
		return c.State()
	}
	return api.StateDisconnected
}

// Done is closed once the session has ended for good.
func (s *ProtocolSession) Done() <-chan struct{} {
	return s.done
}

func (s *ProtocolSession) end() {
	s.once.Do(func() {
		close(s.done)
	})
}
