// File: protocol/protocol.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
)

// EmitFunc receives each complete framed message in stream order.
type EmitFunc func(msg *buffer.Message)

// FramingProtocol is a per-connection framing state machine.
// Instances are not safe for concurrent use; each connection owns one.
type FramingProtocol interface {
	ID() api.ProtocolID
	Name() string
	// Received consumes raw bytes and emits zero or more messages. A non-nil
	// error is a framing violation; no partial message is emitted for it.
	Received(data []byte, emit EmitFunc) error
	// PrepareMessageToSend installs framing around the message buffer chain.
	PrepareMessageToSend(msg *buffer.Message) (*buffer.Message, error)
}

// Reconnect is a reconnect policy a protocol may carry as its default.
type Reconnect struct {
	Interval    time.Duration
	Expiry      time.Duration
	MaxAttempts int
}

// Reconnector is implemented by protocols that carry a default reconnect policy.
type Reconnector interface {
	ReconnectPolicy() (Reconnect, bool)
}

// Factory creates a fresh protocol instance.
type Factory func() FramingProtocol

type registration struct {
	id      api.ProtocolID
	name    string
	factory Factory
}

// Registry maps protocol names and ids to factories. Duplicate registrations
// replace earlier ones.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]registration
	byID   map[api.ProtocolID]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]registration),
		byID:   make(map[api.ProtocolID]registration),
	}
}

// Register adds or replaces a factory under name and id.
func (r *Registry) Register(id api.ProtocolID, name string, factory Factory) {
	reg := registration{id: id, name: name, factory: factory}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = reg
	r.byID[id] = reg
}

// New creates a protocol instance by name.
func (r *Registry) New(name string) (FramingProtocol, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", api.ErrUnknownProtocol, name)
	}
	return reg.factory(), nil
}

// NewByID creates a protocol instance by numeric id.
func (r *Registry) NewByID(id api.ProtocolID) (FramingProtocol, error) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %d", api.ErrUnknownProtocol, id)
	}
	return reg.factory(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin protocol ids.
const (
	IDDelimiter     api.ProtocolID = 1
	IDDelimiterLong api.ProtocolID = 2
	IDHeaderSize    api.ProtocolID = 3
	IDHTTP          api.ProtocolID = 4
)

// Limits bounds what builtin protocols accept.
type Limits struct {
	MaxMessageSize   int // delimiter variants, 0 = unlimited
	MaxPayload       int // headersize variant
	MaxContentLength int // http variant body
	MaxHeaderBytes   int // http variant request line + headers
	HeaderWidth      int // headersize variant, 2, 4 or 8
}

// DefaultLimits returns the limits used when SetLimits was never called.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize:   0,
		MaxPayload:       16 << 20,
		MaxContentLength: 1 << 20,
		MaxHeaderBytes:   64 << 10,
		HeaderWidth:      4,
	}
}

var limits atomic.Pointer[Limits]

// SetLimits replaces the limits applied to builtin protocols created afterwards.
func SetLimits(l Limits) {
	limits.Store(&l)
}

// CurrentLimits returns the limits applied to new builtin protocol instances.
func CurrentLimits() Limits {
	if l := limits.Load(); l != nil {
		return *l
	}
	return DefaultLimits()
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(IDDelimiter, "delimiter", func() FramingProtocol {
		return NewDelimiter(IDDelimiter, "delimiter", []byte("\n")).WithMaxMessageSize(CurrentLimits().MaxMessageSize)
	})
	defaultRegistry.Register(IDDelimiterLong, "delimiter_long", func() FramingProtocol {
		return NewDelimiter(IDDelimiterLong, "delimiter_long", []byte("\r\n\r\n")).WithMaxMessageSize(CurrentLimits().MaxMessageSize)
	})
	defaultRegistry.Register(IDHeaderSize, "headersize", func() FramingProtocol {
		l := CurrentLimits()
		return NewHeaderLength(l.HeaderWidth, l.MaxPayload)
	})
	defaultRegistry.Register(IDHTTP, "http", func() FramingProtocol {
		l := CurrentLimits()
		return NewHTTPRequest(l.MaxContentLength, l.MaxHeaderBytes)
	})
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a factory to the process-wide registry.
func Register(id api.ProtocolID, name string, factory Factory) {
	defaultRegistry.Register(id, name, factory)
}

// New creates a protocol from the process-wide registry by name.
func New(name string) (FramingProtocol, error) {
	return defaultRegistry.New(name)
}

// NewByID creates a protocol from the process-wide registry by id.
func NewByID(id api.ProtocolID) (FramingProtocol, error) {
	return defaultRegistry.NewByID(id)
}

// Names lists the protocols in the process-wide registry.
func Names() []string {
	return defaultRegistry.Names()
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", api.ErrFramingViolation, fmt.Sprintf(format, args...))
}

// compact keeps acc[start:] in a fresh slice so emitted payload views into the
// old backing array stay stable.
func compact(acc []byte, start int) []byte {
	if start == 0 {
		return acc
	}
	if start >= len(acc) {
		return nil
	}
	return append([]byte(nil), acc[start:]...)
}
