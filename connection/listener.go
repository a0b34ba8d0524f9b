// File: connection/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/internal/transport"
)

// Listener is a bound endpoint. Every accepted socket becomes a CONNECTED
// StreamConnection with a fresh instance of the endpoint's protocol.
type Listener struct {
	fd       int
	endpoint api.Endpoint
	addr     *net.TCPAddr
	callback Callback
	closed   atomic.Bool
}

// Endpoint returns the endpoint as requested.
func (l *Listener) Endpoint() api.Endpoint { return l.endpoint }

// Addr returns the effective bound address; the port is resolved when 0 was requested.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Port returns the effective bound port.
func (l *Listener) Port() int { return l.addr.Port }

// Bind starts listening on endpoint. The socket is bound before Bind returns,
// so address errors are reported synchronously; accepting starts on the poll goroutine.
func (c *StreamConnectionContainer) Bind(endpoint string, cb Callback, props BindProps) (*Listener, error) {
	ep, _, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	backlog := props.Backlog
	if backlog <= 0 {
		backlog = c.cfg.Backlog
	}
	fd, addr, err := transport.Listen(ep.Address(), backlog)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", ep, err)
	}
	l := &Listener{fd: fd, endpoint: ep, addr: addr, callback: orNop(cb)}
	c.listeners.Store(fd, l)

	err = c.post(func() {
		if l.closed.Load() {
			return
		}
		if err := c.poller.AddListenSocket(fd); err != nil {
			c.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("watch listener")
			c.closeListener(l)
			return
		}
		if err := c.poller.EnableRead(fd); err != nil {
			c.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("watch listener")
			c.closeListener(l)
			return
		}
		c.listenByFD[fd] = l
		c.log.Debug().Str("endpoint", ep.String()).Str("addr", addr.String()).Msg("bound")
	})
	if err != nil {
		c.listeners.Delete(fd)
		_ = transport.Close(fd)
		return nil, err
	}
	return l, nil
}

// Unbind stops listening. Accepted connections are unaffected. Unbinding
// twice is a no-op.
func (c *StreamConnectionContainer) Unbind(l *Listener) error {
	if l == nil || l.closed.Load() {
		return nil
	}
	if err := c.post(func() { c.closeListener(l) }); err != nil && !errors.Is(err, api.ErrClosed) {
		return err
	}
	return nil
}

// Listeners returns a snapshot of open listeners.
func (c *StreamConnectionContainer) Listeners() []*Listener {
	out := make([]*Listener, 0, c.listeners.Size())
	c.listeners.Range(func(_ int, l *Listener) bool {
		out = append(out, l)
		return true
	})
	return out
}

func (c *StreamConnectionContainer) closeListener(l *Listener) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.poller.RemoveSocket(l.fd)
	delete(c.listenByFD, l.fd)
	c.listeners.Delete(l.fd)
	if err := transport.Close(l.fd); err != nil {
		c.log.Debug().Err(err).Int("fd", l.fd).Msg("close listener")
	}
	c.log.Debug().Str("endpoint", l.endpoint.String()).Msg("unbound")
}

func (c *StreamConnectionContainer) accept(l *Listener) {
	for {
		fd, peer, err := transport.Accept(l.fd)
		if errors.Is(err, transport.ErrWouldBlock) {
			return
		}
		if err != nil {
			c.log.Warn().Err(err).Str("endpoint", l.endpoint.String()).Msg("accept failed")
			return
		}
		proto, err := c.registry.New(l.endpoint.Protocol)
		if err != nil {
			c.log.Warn().Err(err).Str("endpoint", l.endpoint.String()).Msg("accept: protocol")
			_ = transport.Close(fd)
			continue
		}
		conn := newStreamConnection(l.endpoint, proto, l.callback, false)
		conn.started.Store(true)
		conn.fd = fd
		conn.peer.Store(peer)
		conn.markConnected()
		c.register(conn)
		c.byFD[fd] = conn
		err = c.poller.AddSocket(fd)
		if err == nil {
			err = c.poller.EnableRead(fd)
		}
		if err != nil {
			c.drop(conn, err)
			continue
		}
		c.metrics.Accepted()
		c.metrics.Connected()
		c.log.Debug().Uint64("connection", uint64(conn.id)).Str("peer", peer).Msg("accepted")
		conn.callback.Connected(conn)
		c.flush(conn)
	}
}
