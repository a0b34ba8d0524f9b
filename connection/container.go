// File: connection/container.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/internal/transport"
	"github.com/momentics/hioload-link/protocol"
	"github.com/momentics/hioload-link/reactor"
)

// maxBatchMessages caps the messages gathered into one vectored write.
const maxBatchMessages = 64

// Config tunes the poll loop.
type Config struct {
	PollTimeout            time.Duration
	CheckReconnectInterval time.Duration
	ReadChunkSize          int
	Backlog                int
}

// DefaultConfig returns the poll loop settings used when none are given.
func DefaultConfig() Config {
	return Config{
		PollTimeout:            500 * time.Millisecond,
		CheckReconnectInterval: 100 * time.Millisecond,
		ReadChunkSize:          16 * 1024,
		Backlog:                transport.DefaultBacklog,
	}
}

// Option configures a StreamConnectionContainer.
type Option func(*StreamConnectionContainer)

func WithLogger(l zerolog.Logger) Option {
	return func(c *StreamConnectionContainer) { c.log = l.With().Str("component", "connections").Logger() }
}

func WithMetrics(m *control.Metrics) Option {
	return func(c *StreamConnectionContainer) { c.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(c *StreamConnectionContainer) { c.cfg = cfg }
}

// WithRegistry selects the protocol registry endpoints are resolved against.
func WithRegistry(r *protocol.Registry) Option {
	return func(c *StreamConnectionContainer) { c.registry = r }
}

// StreamConnectionContainer owns a poller and every connection and listener
// registered with it. One goroutine, the one inside Run, performs all socket
// I/O and dispatches callbacks; the other methods are safe for concurrent
// use and hand their work to that goroutine.
type StreamConnectionContainer struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *control.Metrics
	registry *protocol.Registry
	poller   *reactor.Poller

	conns     *xsync.MapOf[api.ConnectionID, *StreamConnection]
	tracked   *xsync.MapOf[api.ConnectionID, *StreamConnection]
	listeners *xsync.MapOf[int, *Listener]

	mbMu   sync.Mutex
	mbox   *queue.Queue
	closed bool

	running       atomic.Bool
	stopRequested atomic.Bool
	exited        chan struct{}
	shutdownOnce  sync.Once

	errMu  sync.Mutex
	runErr error

	// poll goroutine only
	byFD       map[int]*StreamConnection
	listenByFD map[int]*Listener
	timers     map[api.ConnectionID]*StreamConnection
	readBuf    []byte
	rng        *rand.Rand
	lastCheck  time.Time
	stopping   bool
}

// New creates a container with its own poller.
func New(opts ...Option) (*StreamConnectionContainer, error) {
	c := &StreamConnectionContainer{
		cfg:        DefaultConfig(),
		log:        zerolog.Nop(),
		registry:   protocol.Default(),
		conns:      xsync.NewMapOf[api.ConnectionID, *StreamConnection](),
		tracked:    xsync.NewMapOf[api.ConnectionID, *StreamConnection](),
		listeners:  xsync.NewMapOf[int, *Listener](),
		mbox:       queue.New(),
		exited:     make(chan struct{}),
		byFD:       make(map[int]*StreamConnection),
		listenByFD: make(map[int]*Listener),
		timers:     make(map[api.ConnectionID]*StreamConnection),
	}
	for _, opt := range opts {
		opt(c)
	}
	def := DefaultConfig()
	if c.cfg.PollTimeout <= 0 {
		c.cfg.PollTimeout = def.PollTimeout
	}
	if c.cfg.CheckReconnectInterval <= 0 {
		c.cfg.CheckReconnectInterval = def.CheckReconnectInterval
	}
	if c.cfg.ReadChunkSize <= 0 {
		c.cfg.ReadChunkSize = def.ReadChunkSize
	}
	c.readBuf = make([]byte, c.cfg.ReadChunkSize)
	c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))

	p, err := reactor.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	c.poller = p
	return c, nil
}

// post queues fn for the poll goroutine and interrupts its wait.
func (c *StreamConnectionContainer) post(fn func()) error {
	c.mbMu.Lock()
	if c.closed {
		c.mbMu.Unlock()
		return api.ErrClosed
	}
	c.mbox.Add(fn)
	c.mbMu.Unlock()
	c.poller.Interrupt()
	return nil
}

func (c *StreamConnectionContainer) runCommands() {
	for {
		c.mbMu.Lock()
		if c.mbox.Length() == 0 {
			c.mbMu.Unlock()
			return
		}
		fn := c.mbox.Remove().(func())
		c.mbMu.Unlock()
		fn()
	}
}

// Start runs the poll loop on a new goroutine.
func (c *StreamConnectionContainer) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: poll loop already running", api.ErrInvalidState)
	}
	go func() {
		if err := c.loop(context.Background()); err != nil {
			c.errMu.Lock()
			c.runErr = err
			c.errMu.Unlock()
		}
	}()
	return nil
}

// Stop ends the poll loop, disconnects every connection and closes every
// listener. It returns the poller failure that ended the loop, if any, and
// is safe to call more than once.
func (c *StreamConnectionContainer) Stop() error {
	c.stopRequested.Store(true)
	if c.running.Load() {
		c.poller.Interrupt()
		<-c.exited
	} else {
		c.shutdown()
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.runErr
}

// Run drives the poll loop until ctx is done, Stop is called or the poller
// fails. Only a poller failure is returned; per-connection failures
// disconnect that connection and the loop continues. A container runs its
// loop at most once.
func (c *StreamConnectionContainer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: poll loop already running", api.ErrInvalidState)
	}
	return c.loop(ctx)
}

func (c *StreamConnectionContainer) loop(ctx context.Context) error {
	defer close(c.exited)
	stop := context.AfterFunc(ctx, c.poller.Interrupt)
	defer stop()

	var err error
	for ctx.Err() == nil && !c.stopRequested.Load() {
		c.runCommands()
		if c.isClosed() {
			break
		}
		res, werr := c.poller.Wait(c.waitTimeout())
		if werr != nil {
			c.log.Error().Err(werr).Msg("poller failed")
			err = werr
			break
		}
		for _, info := range res.DescriptorInfos {
			c.handle(info)
		}
		c.checkTimers(time.Now())
	}
	c.shutdown()
	return err
}

func (c *StreamConnectionContainer) isClosed() bool {
	c.mbMu.Lock()
	defer c.mbMu.Unlock()
	return c.closed
}

func (c *StreamConnectionContainer) waitTimeout() int {
	d := c.cfg.PollTimeout
	if len(c.timers) > 0 && c.cfg.CheckReconnectInterval < d {
		d = c.cfg.CheckReconnectInterval
	}
	ms := int(d / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

func (c *StreamConnectionContainer) shutdown() {
	c.shutdownOnce.Do(func() {
		c.mbMu.Lock()
		c.closed = true
		c.mbMu.Unlock()
		c.stopping = true
		c.runCommands()

		c.tracked.Range(func(_ api.ConnectionID, conn *StreamConnection) bool {
			conn.closing.Store(true)
			conn.markDisconnected()
			c.conns.Delete(conn.id)
			c.teardown(conn, api.ErrClosed, false)
			return true
		})
		c.listeners.Range(func(fd int, l *Listener) bool {
			c.closeListener(l)
			return true
		})
		if err := c.poller.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close poller")
		}
		c.log.Debug().Msg("container stopped")
	})
}

func (c *StreamConnectionContainer) resolve(endpoint string) (api.Endpoint, protocol.FramingProtocol, error) {
	ep, err := api.ParseEndpoint(endpoint)
	if err != nil {
		return ep, nil, err
	}
	if ep.Protocol == "" {
		return ep, nil, fmt.Errorf("%w: endpoint %q names no protocol", api.ErrUnknownProtocol, endpoint)
	}
	proto, err := c.registry.New(ep.Protocol)
	if err != nil {
		return ep, nil, err
	}
	return ep, proto, nil
}

func (c *StreamConnectionContainer) register(conn *StreamConnection) {
	c.conns.Store(conn.id, conn)
	c.tracked.Store(conn.id, conn)
	c.metrics.Registered()
}

func (c *StreamConnectionContainer) unregister(conn *StreamConnection) {
	c.conns.Delete(conn.id)
	c.tracked.Delete(conn.id)
}

// CreateConnection registers an outgoing connection without opening a socket.
// Messages sent to it are queued until ConnectCreated brings it up.
func (c *StreamConnectionContainer) CreateConnection(endpoint string, cb Callback) (*StreamConnection, error) {
	ep, proto, err := c.resolve(endpoint)
	if err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	conn := newStreamConnection(ep, proto, orNop(cb), true)
	c.register(conn)
	return conn, nil
}

// Connect creates an outgoing connection and starts connecting it. The
// result is CONNECTING; Connected or Disconnected follows on the callback.
func (c *StreamConnectionContainer) Connect(endpoint string, cb Callback, props ConnectProps) (*StreamConnection, error) {
	conn, err := c.CreateConnection(endpoint, cb)
	if err != nil {
		return nil, err
	}
	if err := c.ConnectCreated(conn.id, props); err != nil {
		c.unregister(conn)
		return nil, err
	}
	return conn, nil
}

// ConnectCreated starts connecting a connection made by CreateConnection.
func (c *StreamConnectionContainer) ConnectCreated(id api.ConnectionID, props ConnectProps) error {
	conn, ok := c.conns.Load(id)
	if !ok {
		return api.Wrap(api.ErrCodeNotFound, api.ErrNotFound, "connect").WithContext("connection", id)
	}
	if !conn.outgoing || conn.State() != api.StateConnecting {
		return fmt.Errorf("%w: connection %d is %s", api.ErrInvalidState, id, conn.State())
	}
	if !conn.startOnce() {
		return fmt.Errorf("%w: connection %d already connecting", api.ErrInvalidState, id)
	}
	conn.props = props.WithProtocolDefaults(conn.proto)
	return c.post(func() { c.startConnect(conn) })
}

// SendMessage queues msg on connection id. It is framed and written on the
// poll goroutine once the connection is CONNECTED, in call order. The message
// is released after it has been written.
func (c *StreamConnectionContainer) SendMessage(id api.ConnectionID, msg *buffer.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", api.ErrInvalidArgument)
	}
	conn, ok := c.conns.Load(id)
	if !ok {
		return api.Wrap(api.ErrCodeNotFound, api.ErrNotFound, "send").WithContext("connection", id)
	}
	if conn.State() == api.StateDisconnected {
		return fmt.Errorf("%w: connection %d is disconnected", api.ErrInvalidState, id)
	}
	holder := conn.enqueue(msg)
	if holder == nil {
		return fmt.Errorf("%w: connection %d is disconnected", api.ErrInvalidState, id)
	}
	if holder.State() == api.StateConnected && holder.flushQueued.CompareAndSwap(false, true) {
		return c.post(func() {
			holder.flushQueued.Store(false)
			c.flush(holder)
		})
	}
	return nil
}

// Disconnect tears connection id down and cancels any pending reconnect.
// Unknown or already disconnected ids are a no-op.
func (c *StreamConnectionContainer) Disconnect(id api.ConnectionID) error {
	conn, ok := c.conns.Load(id)
	if !ok {
		return nil
	}
	conn.closing.Store(true)
	if !conn.markDisconnected() {
		return nil
	}
	c.conns.Delete(id)
	// after shutdown began, post fails and shutdown tears the connection down
	_ = c.post(func() { c.teardown(conn, nil, false) })
	return nil
}

// GetConnection returns a live connection or an ErrNotFound error.
func (c *StreamConnectionContainer) GetConnection(id api.ConnectionID) (*StreamConnection, error) {
	conn, ok := c.conns.Load(id)
	if !ok {
		return nil, api.Wrap(api.ErrCodeNotFound, api.ErrNotFound, "get connection").WithContext("connection", id)
	}
	return conn, nil
}

// TryGetConnection returns a live connection, if any.
func (c *StreamConnectionContainer) TryGetConnection(id api.ConnectionID) (*StreamConnection, bool) {
	return c.conns.Load(id)
}

// GetAllConnections returns a snapshot of live connections ordered by id.
func (c *StreamConnectionContainer) GetAllConnections() []*StreamConnection {
	out := make([]*StreamConnection, 0, c.conns.Size())
	c.conns.Range(func(_ api.ConnectionID, conn *StreamConnection) bool {
		out = append(out, conn)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// WatchedSockets returns the number of sockets in the poller watch set.
func (c *StreamConnectionContainer) WatchedSockets() int {
	return c.poller.Watched()
}

func (c *StreamConnectionContainer) startConnect(conn *StreamConnection) {
	if conn.State() != api.StateConnecting {
		return
	}
	conn.since = time.Now()
	conn.attempts = 0
	c.dial(conn)
}

func (c *StreamConnectionContainer) dial(conn *StreamConnection) {
	conn.attempts++
	if conn.attempts > 1 {
		c.metrics.ReconnectAttempt()
	}
	fd, connected, err := transport.Dial(conn.endpoint.Address())
	if err != nil {
		c.attemptFailed(conn, err)
		return
	}
	conn.fd = fd
	conn.dialing = true
	conn.dialedAt = time.Now()
	c.byFD[fd] = conn
	if err := c.poller.AddSocket(fd); err != nil {
		c.attemptFailed(conn, err)
		return
	}
	if connected {
		c.established(conn)
		return
	}
	if err := c.poller.EnableWrite(fd); err != nil {
		c.attemptFailed(conn, err)
		return
	}
	conn.writeArmed = true
	c.timers[conn.id] = conn
	c.log.Debug().Uint64("connection", uint64(conn.id)).Str("endpoint", conn.endpoint.String()).
		Int("attempt", conn.attempts).Msg("connecting")
}

func (c *StreamConnectionContainer) attemptFailed(conn *StreamConnection, cause error) {
	c.closeSocket(conn)
	if conn.State() == api.StateDisconnected {
		return
	}
	p := conn.props
	now := time.Now()
	switch {
	case !p.Reconnects():
		c.terminate(conn, cause)
		return
	case p.MaxReconnectAttempts > 0 && conn.attempts > p.MaxReconnectAttempts,
		p.ReconnectExpiry > 0 && now.Sub(conn.since) >= p.ReconnectExpiry:
		c.terminate(conn, fmt.Errorf("%w: %w", api.ErrReconnectExpired, cause))
		return
	}
	delay := NextBackoffDelay(p.backoff(), conn.attempts, c.rng)
	conn.nextAttempt = now.Add(delay)
	c.timers[conn.id] = conn
	c.log.Debug().Err(cause).Uint64("connection", uint64(conn.id)).Dur("retry_in", delay).Msg("connect attempt failed")
}

// checkTimers runs pending reconnects and connect timeouts.
func (c *StreamConnectionContainer) checkTimers(now time.Time) {
	if len(c.timers) == 0 || now.Sub(c.lastCheck) < c.cfg.CheckReconnectInterval {
		return
	}
	c.lastCheck = now
	for id, conn := range c.timers {
		if conn.State() != api.StateConnecting {
			delete(c.timers, id)
			continue
		}
		p := conn.props
		if conn.dialing {
			if p.ConnectTimeout > 0 && now.Sub(conn.dialedAt) >= p.ConnectTimeout {
				c.attemptFailed(conn, fmt.Errorf("%w: timed out after %s", api.ErrConnectionRefused, p.ConnectTimeout))
			}
			continue
		}
		if p.ReconnectExpiry > 0 && now.Sub(conn.since) >= p.ReconnectExpiry {
			c.terminate(conn, api.ErrReconnectExpired)
			continue
		}
		if !now.Before(conn.nextAttempt) {
			c.dial(conn)
		}
	}
}

func (c *StreamConnectionContainer) established(conn *StreamConnection) {
	conn.dialing = false
	delete(c.timers, conn.id)
	if !conn.markConnected() {
		return
	}
	conn.peer.Store(conn.endpoint.Address())
	c.setWrite(conn, false)
	if err := c.poller.EnableRead(conn.fd); err != nil {
		c.drop(conn, err)
		return
	}
	c.metrics.Connected()
	c.log.Debug().Uint64("connection", uint64(conn.id)).Str("endpoint", conn.endpoint.String()).Msg("connected")
	conn.callback.Connected(conn)
	c.flush(conn)
}

func (c *StreamConnectionContainer) handle(info reactor.DescriptorInfo) {
	if l, ok := c.listenByFD[info.Socket]; ok {
		c.accept(l)
		return
	}
	conn, ok := c.byFD[info.Socket]
	if !ok || conn.State() == api.StateDisconnected {
		return
	}
	if conn.dialing {
		if !info.Writable && !info.Disconnected {
			return
		}
		err := transport.ConnectError(conn.fd)
		if err == nil && !info.Writable {
			err = api.ErrConnectionRefused
		}
		if err != nil {
			c.attemptFailed(conn, err)
			return
		}
		c.established(conn)
		return
	}
	if info.Readable || info.Disconnected {
		if !c.read(conn) {
			return
		}
	}
	if info.Writable {
		c.flush(conn)
	}
}

// read drains the socket through the protocol. It reports false when the
// connection went down.
func (c *StreamConnectionContainer) read(conn *StreamConnection) bool {
	for {
		n, err := transport.Read(conn.fd, c.readBuf)
		if errors.Is(err, transport.ErrWouldBlock) {
			return true
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn().Err(err).Uint64("connection", uint64(conn.id)).Msg("read failed")
			}
			c.drop(conn, err)
			return false
		}
		count := 0
		ferr := conn.proto.Received(c.readBuf[:n], func(msg *buffer.Message) {
			count++
			conn.callback.Received(conn, msg)
		})
		c.metrics.Received(count, n)
		if ferr != nil {
			c.metrics.FramingRejected(conn.proto.Name())
			c.log.Warn().Err(ferr).Uint64("connection", uint64(conn.id)).Str("protocol", conn.proto.Name()).
				Msg("framing rejected")
			c.drop(conn, ferr)
			return false
		}
		if conn.State() != api.StateConnected {
			return false
		}
	}
}

func (c *StreamConnectionContainer) flush(conn *StreamConnection) {
	if conn.State() != api.StateConnected || conn.fd < 0 {
		return
	}
	for {
		if conn.batch.Size() == 0 {
			c.completeInflight(conn)
			msgs := conn.take(maxBatchMessages)
			if len(msgs) == 0 {
				break
			}
			for _, m := range msgs {
				prepared, err := conn.proto.PrepareMessageToSend(m)
				if err != nil {
					c.log.Warn().Err(err).Uint64("connection", uint64(conn.id)).Msg("message dropped")
					m.Release()
					continue
				}
				conn.batch.Append(prepared.SendBuffers()...)
				conn.inflight = append(conn.inflight, prepared)
			}
			continue
		}
		n, err := transport.Writev(conn.fd, conn.batch.Underlying())
		if errors.Is(err, transport.ErrWouldBlock) {
			c.setWrite(conn, true)
			return
		}
		if err != nil {
			c.log.Warn().Err(err).Uint64("connection", uint64(conn.id)).Msg("write failed")
			c.drop(conn, err)
			return
		}
		c.metrics.BytesSent(n)
		conn.batch.Consume(n)
	}
	c.setWrite(conn, false)
}

func (c *StreamConnectionContainer) completeInflight(conn *StreamConnection) {
	if len(conn.inflight) == 0 {
		return
	}
	c.metrics.MessagesSent(len(conn.inflight))
	for i, m := range conn.inflight {
		m.Release()
		conn.inflight[i] = nil
	}
	conn.inflight = conn.inflight[:0]
}

func (c *StreamConnectionContainer) setWrite(conn *StreamConnection, on bool) {
	if conn.fd < 0 || conn.writeArmed == on {
		return
	}
	var err error
	if on {
		err = c.poller.EnableWrite(conn.fd)
	} else {
		err = c.poller.DisableWrite(conn.fd)
	}
	if err != nil {
		c.log.Warn().Err(err).Uint64("connection", uint64(conn.id)).Msg("update write interest")
		return
	}
	conn.writeArmed = on
}

func (c *StreamConnectionContainer) closeSocket(conn *StreamConnection) {
	conn.dialing = false
	conn.writeArmed = false
	if conn.fd < 0 {
		return
	}
	_ = c.poller.RemoveSocket(conn.fd)
	if err := transport.Close(conn.fd); err != nil {
		c.log.Debug().Err(err).Int("fd", conn.fd).Msg("close socket")
	}
	delete(c.byFD, conn.fd)
	conn.fd = -1
}

// terminate ends a connection that never reached, or may not return to, CONNECTED.
func (c *StreamConnectionContainer) terminate(conn *StreamConnection, cause error) {
	if !conn.markDisconnected() {
		return
	}
	c.conns.Delete(conn.id)
	c.teardown(conn, cause, false)
}

// drop ends a CONNECTED connection after a socket or framing failure,
// replacing it when its props ask for reconnects.
func (c *StreamConnectionContainer) drop(conn *StreamConnection, cause error) {
	if !conn.markDisconnected() {
		return
	}
	c.conns.Delete(conn.id)
	replace := conn.outgoing && conn.props.Reconnects() && !conn.closing.Load() && !c.stopping
	c.teardown(conn, cause, replace)
}

// teardown releases the connection's resources and notifies its callback.
// It runs once per connection.
func (c *StreamConnectionContainer) teardown(conn *StreamConnection, cause error, replace bool) {
	if _, ok := c.tracked.LoadAndDelete(conn.id); !ok {
		return
	}
	c.closeSocket(conn)
	delete(c.timers, conn.id)
	c.metrics.Disconnected()

	var next *StreamConnection
	if replace {
		proto, err := c.registry.New(conn.endpoint.Protocol)
		if err == nil {
			next = newStreamConnection(conn.endpoint, proto, conn.callback, true)
			next.props = conn.props
			next.started.Store(true)
			next.since = time.Now()
			next.attempts = 1
			next.nextAttempt = next.since.Add(NextBackoffDelay(conn.props.backoff(), 1, c.rng))
			conn.handOver(next)
			c.register(next)
			c.timers[next.id] = next
		}
	}
	conn.dropOutbox()

	ev := c.log.Debug().Uint64("connection", uint64(conn.id)).Str("endpoint", conn.endpoint.String())
	if cause != nil && !errors.Is(cause, io.EOF) {
		ev = ev.Err(cause)
	}
	if next != nil {
		ev = ev.Uint64("replacement", uint64(next.id))
	}
	ev.Msg("disconnected")

	if next != nil {
		if ro, ok := conn.callback.(ReplacementObserver); ok {
			ro.Replaced(conn, next)
		}
	}
	conn.callback.Disconnected(conn)
}

func orNop(cb Callback) Callback {
	if cb == nil {
		return CallbackFuncs{}
	}
	return cb
}
