// File: connection/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/protocol"
)

// StreamConnection is one framed byte stream. Exported methods are safe for
// concurrent use; socket state is owned by the container's poll goroutine.
type StreamConnection struct {
	id       api.ConnectionID
	endpoint api.Endpoint
	proto    protocol.FramingProtocol
	callback Callback
	props    ConnectProps
	outgoing bool

	state       atomic.Int32
	started     atomic.Bool
	closing     atomic.Bool // Disconnect was requested
	flushQueued atomic.Bool
	peer        atomic.Value // string

	mu     sync.Mutex
	outbox *queue.Queue

	// sealed is set once the outbox was handed over or dropped; later
	// messages go to successor, or are refused when there is none.
	sealed    bool
	successor *StreamConnection

	// poll goroutine only
	fd          int
	batch       *buffer.Batch
	inflight    []*buffer.Message
	writeArmed  bool
	dialing     bool
	attempts    int
	since       time.Time
	dialedAt    time.Time
	nextAttempt time.Time
}

func newStreamConnection(ep api.Endpoint, proto protocol.FramingProtocol, cb Callback, outgoing bool) *StreamConnection {
	c := &StreamConnection{
		id:       api.NextConnectionID(),
		endpoint: ep,
		proto:    proto,
		callback: cb,
		outgoing: outgoing,
		outbox:   queue.New(),
		fd:       -1,
		batch:    buffer.NewBatch(16),
	}
	c.state.Store(int32(api.StateConnecting))
	c.peer.Store("")
	return c
}

func (c *StreamConnection) ID() api.ConnectionID       { return c.id }
func (c *StreamConnection) Endpoint() api.Endpoint     { return c.endpoint }
func (c *StreamConnection) ProtocolID() api.ProtocolID { return c.proto.ID() }
func (c *StreamConnection) ProtocolName() string       { return c.proto.Name() }

// Outgoing reports whether the connection was created by Connect or
// CreateConnection rather than accepted on a bound endpoint.
func (c *StreamConnection) Outgoing() bool { return c.outgoing }

// State returns the current lifecycle state.
func (c *StreamConnection) State() api.ConnectionState {
	return api.ConnectionState(c.state.Load())
}

// Props returns the connect properties in effect.
func (c *StreamConnection) Props() ConnectProps { return c.props }

// RemoteAddr returns the peer address once known.
func (c *StreamConnection) RemoteAddr() string {
	return c.peer.Load().(string)
}

// Pending returns the number of queued messages not yet handed to the socket.
func (c *StreamConnection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.Length()
}

// enqueue queues msg and returns the connection that now holds it: c, a
// replacement when c was already handed over, or nil when c was torn down
// for good.
func (c *StreamConnection) enqueue(msg *buffer.Message) *StreamConnection {
	c.mu.Lock()
	if !c.sealed {
		c.outbox.Add(msg)
		c.mu.Unlock()
		return c
	}
	next := c.successor
	c.mu.Unlock()
	if next == nil {
		return nil
	}
	return next.enqueue(msg)
}

// take removes up to n queued messages in order.
func (c *StreamConnection) take(n int) []*buffer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.outbox.Length() {
		n = c.outbox.Length()
	}
	out := make([]*buffer.Message, 0, n)
	for range n {
		out = append(out, c.outbox.Remove().(*buffer.Message))
	}
	return out
}

// handOver moves every queued message to next, ahead of anything next already
// holds, and seals c so later messages follow them to next.
func (c *StreamConnection) handOver(next *StreamConnection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	c.successor = next

	next.mu.Lock()
	defer next.mu.Unlock()
	merged := queue.New()
	for c.outbox.Length() > 0 {
		merged.Add(c.outbox.Remove())
	}
	for next.outbox.Length() > 0 {
		merged.Add(next.outbox.Remove())
	}
	next.outbox = merged
}

// markDisconnected moves the connection to DISCONNECTED. Only the first caller wins.
func (c *StreamConnection) markDisconnected() bool {
	for {
		s := c.state.Load()
		if s == int32(api.StateDisconnected) {
			return false
		}
		if c.state.CompareAndSwap(s, int32(api.StateDisconnected)) {
			return true
		}
	}
}

func (c *StreamConnection) startOnce() bool {
	return c.started.CompareAndSwap(false, true)
}

func (c *StreamConnection) markConnected() bool {
	return c.state.CompareAndSwap(int32(api.StateConnecting), int32(api.StateConnected))
}

// dropOutbox seals the outbox and releases every queued and in-flight message.
// A successor installed by handOver is kept.
func (c *StreamConnection) dropOutbox() {
	c.mu.Lock()
	c.sealed = true
	queued := make([]*buffer.Message, 0, c.outbox.Length())
	for c.outbox.Length() > 0 {
		queued = append(queued, c.outbox.Remove().(*buffer.Message))
	}
	c.mu.Unlock()
	for _, m := range queued {
		m.Release()
	}
	for _, m := range c.inflight {
		m.Release()
	}
	c.inflight = nil
	c.batch.Reset()
}
