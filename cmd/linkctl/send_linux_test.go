//go:build linux

package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/facade"
)

func TestSendAgainstEchoServer(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.PollTimeout = 50 * time.Millisecond
	server, err := facade.New(cfg)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	for _, proto := range []string{"delimiter", "delimiter_long", "headersize"} {
		t.Run(proto, func(t *testing.T) {
			l, err := server.Sessions().Bind("tcp://127.0.0.1:0:"+proto, echoCallback(server.Sessions(), zerolog.Nop()), server.BindProps())
			require.NoError(t, err)
			t.Cleanup(func() { _ = server.Sessions().Unbind(l) })

			endpoint := fmt.Sprintf("tcp://127.0.0.1:%d:%s", l.Port(), proto)
			out, err := execute(t, "send", "--endpoint", endpoint, "--data", "hello", "--timeout", "3s")
			require.NoError(t, err)
			assert.Equal(t, "hello\n", out)
		})
	}
}

func TestSendTimesOutWithoutListener(t *testing.T) {
	_, err := execute(t, "send", "--endpoint", "tcp://127.0.0.1:1:delimiter", "--data", "x", "--timeout", "2s")
	assert.Error(t, err)
}
