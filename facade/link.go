// File: facade/link.go
// Unified facade layer for hioload-link.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Link aggregates the runtime pieces of one link instance behind a single
// start/stop unit: configuration, logger, Prometheus metrics, debug probes,
// the stream connection container and the session container on top of it.
// A Reloader hook re-applies framing limits and the default reconnect policy
// when the configuration file changes. Poll loop settings are fixed per run.

package facade

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-link/connection"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/protocol"
	"github.com/momentics/hioload-link/session"
)

// Option configures a Link.
type Option func(*Link)

func WithLogger(l zerolog.Logger) Option {
	return func(k *Link) { k.log = l }
}

// WithConfigFile enables Reload from path.
func WithConfigFile(path string) Option {
	return func(k *Link) { k.configPath = path }
}

// WithMetricsNamespace overrides the Prometheus namespace ("hioload").
func WithMetricsNamespace(ns string) Option {
	return func(k *Link) { k.namespace = ns }
}

// Link is the main facade type.
type Link struct {
	log        zerolog.Logger
	configPath string
	namespace  string

	metrics  *control.Metrics
	probes   *control.DebugProbes
	reloader *control.Reloader
	conns    *connection.StreamConnectionContainer
	sessions *session.ProtocolSessionContainer

	mu  sync.RWMutex
	cfg control.Config

	// runMu guards started. Callbacks never take it.
	runMu   sync.Mutex
	started bool
}

// New validates cfg and builds every component. Nothing runs until Start.
func New(cfg control.Config, opts ...Option) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	k := &Link{log: zerolog.Nop(), namespace: "hioload", cfg: cfg}
	for _, opt := range opts {
		opt(k)
	}

	k.metrics = control.NewMetrics(k.namespace)
	k.probes = control.NewDebugProbes()
	k.applyLimits(cfg)

	conns, err := connection.New(
		connection.WithLogger(k.log),
		connection.WithMetrics(k.metrics),
		connection.WithConfig(connection.Config{
			PollTimeout:            cfg.PollTimeout,
			CheckReconnectInterval: cfg.CheckReconnectInterval,
			ReadChunkSize:          cfg.ReadChunkSize,
			Backlog:                cfg.Backlog,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connection container init failure: %w", err)
	}
	k.conns = conns
	k.sessions = session.New(conns, session.WithLogger(k.log))

	k.probes.RegisterProbe("connections", func() any { return len(k.conns.GetAllConnections()) })
	k.probes.RegisterProbe("sessions", func() any { return len(k.sessions.GetAllSessions()) })
	k.probes.RegisterProbe("listeners", func() any { return len(k.conns.Listeners()) })
	k.probes.RegisterProbe("watched_sockets", func() any { return k.conns.WatchedSockets() })
	k.probes.RegisterProbe("protocols", func() any { return protocol.Names() })
	control.RegisterPlatformProbes(k.probes)

	if k.configPath != "" {
		k.reloader = control.NewReloader(k.configPath, cfg)
		k.reloader.OnReload(k.applyReload)
	}
	return k, nil
}

func (k *Link) applyLimits(cfg control.Config) {
	protocol.SetLimits(protocol.Limits{
		MaxMessageSize:   cfg.MaxMessageSize,
		MaxPayload:       cfg.MaxPayload,
		MaxContentLength: cfg.MaxContentLength,
		MaxHeaderBytes:   cfg.MaxHeaderBytes,
		HeaderWidth:      cfg.HeaderWidth,
	})
}

func (k *Link) applyReload(cfg control.Config) {
	if err := cfg.Validate(); err != nil {
		k.log.Warn().Err(err).Msg("reloaded config rejected")
		return
	}
	k.mu.Lock()
	prev := k.cfg
	k.cfg = cfg
	k.mu.Unlock()
	k.applyLimits(cfg)
	if prev.PollTimeout != cfg.PollTimeout || prev.ReadChunkSize != cfg.ReadChunkSize {
		k.log.Info().Msg("poll loop settings change on restart only")
	}
	k.log.Info().Str("path", k.configPath).Msg("config reloaded")
}

// Start launches the poll loop. Subsequent calls have no effect.
func (k *Link) Start() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	if k.started {
		return nil
	}
	if err := k.conns.Start(); err != nil {
		return err
	}
	k.started = true
	k.log.Info().Msg("link started")
	return nil
}

// Run runs the poll loop on the calling goroutine until ctx is done or Stop
// is called.
func (k *Link) Run(ctx context.Context) error {
	k.runMu.Lock()
	k.started = true
	k.runMu.Unlock()
	return k.conns.Run(ctx)
}

// Stop disconnects every session, closes all listeners and ends the poll
// loop. It also releases a Link that was never started. Safe to call twice.
func (k *Link) Stop() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	err := k.conns.Stop()
	if k.started {
		k.started = false
		k.log.Info().Err(err).Msg("link stopped")
	}
	return err
}

// Shutdown delegates to Stop.
func (k *Link) Shutdown() error {
	return k.Stop()
}

// Reload re-reads the configuration file given by WithConfigFile.
func (k *Link) Reload() error {
	if k.reloader == nil {
		return fmt.Errorf("reload: no config file")
	}
	_, err := k.reloader.Reload()
	return err
}

// OnReload registers a hook run after each successful Reload.
func (k *Link) OnReload(fn func(control.Config)) {
	if k.reloader != nil {
		k.reloader.OnReload(fn)
	}
}

// Config returns the configuration currently applied.
func (k *Link) Config() control.Config {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cfg
}

// ConnectProps returns the configured default reconnect policy.
func (k *Link) ConnectProps() connection.ConnectProps {
	r := k.Config().Reconnect
	return connection.ConnectProps{
		ReconnectInterval:    r.Interval,
		Multiplier:           r.Multiplier,
		MaxInterval:          r.MaxInterval,
		MaxReconnectAttempts: r.MaxAttempts,
		ReconnectExpiry:      r.Expiry,
		ConnectTimeout:       r.Timeout,
		Jitter:               r.Jitter,
	}
}

// BindProps returns the configured listen settings.
func (k *Link) BindProps() connection.BindProps {
	return connection.BindProps{Backlog: k.Config().Backlog}
}

// NewMessageWriter returns an outgoing message and a writer filling it in
// configured block sizes. Flush the writer before sending.
func (k *Link) NewMessageWriter() (*buffer.Message, *buffer.Writer) {
	msg := buffer.NewMessage()
	return msg, buffer.NewWriter(msg.Buffer(), k.Config().BlockSize)
}

func (k *Link) Sessions() *session.ProtocolSessionContainer        { return k.sessions }
func (k *Link) Connections() *connection.StreamConnectionContainer { return k.conns }
func (k *Link) Metrics() *control.Metrics                          { return k.metrics }
func (k *Link) Probes() *control.DebugProbes                       { return k.probes }
