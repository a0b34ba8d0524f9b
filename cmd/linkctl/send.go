// File: cmd/linkctl/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/facade"
	"github.com/momentics/hioload-link/session"
)

func newSendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Connect, send one message and print the first reply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := runSend(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	key := "endpoint"
	cmd.Flags().String(key, "tcp://127.0.0.1:3001:delimiter_long", "endpoint to connect to, tcp://host:port:protocol")
	key = "data"
	cmd.Flags().String(key, "", "message payload")
	key = "timeout"
	cmd.Flags().Duration(key, 5*time.Second, "how long to wait for the connection and the reply")
	return cmd
}

func runSend(ctx context.Context, v *viper.Viper) (string, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return "", err
	}
	endpoint := v.GetString("endpoint")
	ep, err := api.ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if ep.Protocol == "http" {
		return "", fmt.Errorf("%w: http framing parses requests only", api.ErrNotSupported)
	}

	link, err := facade.New(cfg, facade.WithLogger(newLogger(cfg)))
	if err != nil {
		return "", err
	}
	if err := link.Start(); err != nil {
		return "", err
	}
	defer link.Stop()

	replies := make(chan string, 1)
	gone := make(chan struct{}, 1)
	cb := session.CallbackFuncs{
		OnReceived: func(_ *session.ProtocolSession, msg *buffer.Message) {
			select {
			case replies <- string(msg.Payload()):
			default:
			}
		},
		OnDisconnected: func(*session.ProtocolSession) {
			select {
			case gone <- struct{}{}:
			default:
			}
		},
	}

	props := link.ConnectProps()
	props.ReconnectInterval = 0
	s, err := link.Sessions().Connect(endpoint, cb, props)
	if err != nil {
		return "", err
	}
	if err := link.Sessions().SendMessage(s.ID(), buffer.NewStringMessage(v.GetString("data"))); err != nil {
		return "", err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
	defer cancel()
	select {
	case r := <-replies:
		return r, nil
	case <-gone:
		return "", errors.New("connection closed before a reply arrived")
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
}
