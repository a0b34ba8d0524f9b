// File: cmd/linkctl/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/facade"
	"github.com/momentics/hioload-link/protocol"
	"github.com/momentics/hioload-link/session"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bind an endpoint and echo every received message",
		Long: `Bind an endpoint and echo every received message back to its session.
http endpoints answer each request with 200 and the request body.
SIGHUP reloads the config file given by --config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	key := "endpoint"
	cmd.Flags().String(key, "tcp://*:3001:delimiter_long", "endpoint to bind, tcp://host:port:protocol")
	key = "debug-interval"
	cmd.Flags().Duration(key, 0, "log debug probes at this interval; 0 disables")
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	var opts []facade.Option
	opts = append(opts, facade.WithLogger(log))
	if path := v.GetString("config"); path != "" {
		opts = append(opts, facade.WithConfigFile(path))
	}
	link, err := facade.New(cfg, opts...)
	if err != nil {
		return err
	}

	l, err := link.Sessions().Bind(v.GetString("endpoint"), echoCallback(link.Sessions(), log), link.BindProps())
	if err != nil {
		_ = link.Stop()
		return err
	}
	log.Info().Str("endpoint", l.Endpoint().String()).Int("port", l.Port()).Msg("serving")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return link.Run(gctx)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", link.Metrics().Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
	}

	if every := v.GetDuration("debug-interval"); every > 0 {
		g.Go(func() error {
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					log.Debug().Fields(link.Probes().DumpState()).Msg("probes")
				}
			}
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := link.Reload(); err != nil {
					log.Warn().Err(err).Msg("reload failed")
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, link.Stop())
}

// echoCallback sends every received payload back on the same session.
func echoCallback(sessions *session.ProtocolSessionContainer, log zerolog.Logger) session.Callback {
	return session.CallbackFuncs{
		OnConnected: func(s *session.ProtocolSession) {
			log.Debug().Stringer("session", s.ID()).Msg("session connected")
		},
		OnDisconnected: func(s *session.ProtocolSession) {
			log.Debug().Stringer("session", s.ID()).Msg("session disconnected")
		},
		OnReceived: func(s *session.ProtocolSession, msg *buffer.Message) {
			reply := buffer.NewMessage()
			if err := reply.Append(msg.Payload()); err != nil {
				log.Warn().Err(err).Msg("echo")
				return
			}
			if _, isHTTP := msg.Control(protocol.KeyMethod); isHTTP {
				reply.SetControl(protocol.KeyStatus, "200")
				reply.SetControl(protocol.HeaderPrefix+"content-type", "application/octet-stream")
			}
			if err := sessions.SendMessage(s.ID(), reply); err != nil {
				log.Warn().Err(err).Stringer("session", s.ID()).Msg("echo")
			}
		},
	}
}
