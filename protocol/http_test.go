// File: protocol/http_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
	"github.com/momentics/hioload-link/protocol"
)

const helloHead = "GET /hello?filter=world&lang=en HTTP/1.1\r\nhello: 123\r\n"

func assertHelloControl(t *testing.T, msg *buffer.Message) {
	t.Helper()
	expect := map[string]string{
		protocol.KeyMethod:              "GET",
		protocol.KeyPath:                "/hello",
		protocol.KeyVersion:             "HTTP/1.1",
		protocol.QueryPrefix + "filter": "world",
		protocol.QueryPrefix + "lang":   "en",
		protocol.HeaderPrefix + "hello": "123",
	}
	for k, v := range expect {
		got, ok := msg.Control(k)
		require.True(t, ok, "missing %s", k)
		assert.Equal(t, v, got, k)
	}
}

func TestHTTPRequestWithoutBody(t *testing.T) {
	p := protocol.NewHTTPRequest(1024, 0)
	var c collector
	require.NoError(t, p.Received([]byte(helloHead+"\r\n"), c.emit))
	require.Len(t, c.msgs, 1)
	assertHelloControl(t, c.msgs[0])
	assert.Empty(t, c.msgs[0].Payload())
}

func TestHTTPRequestBodyWholeOrSplit(t *testing.T) {
	head := helloHead + "Content-Length: 10\r\n\r\n"
	body := "0123456789"

	cases := map[string][]string{
		"whole":        {head + body},
		"split body":   {head + body[:4], body[4:]},
		"split head":   {head[:7], head[7:] + body},
		"byte by byte": strings.Split(head+body, ""),
	}
	for name, parts := range cases {
		t.Run(name, func(t *testing.T) {
			p := protocol.NewHTTPRequest(10, 0)
			var c collector
			for i, part := range parts {
				require.NoError(t, p.Received([]byte(part), c.emit))
				if i < len(parts)-1 {
					require.Empty(t, c.msgs)
				}
			}
			require.Len(t, c.msgs, 1)
			assertHelloControl(t, c.msgs[0])
			assert.Equal(t, body, string(c.msgs[0].Payload()))
			got, _ := c.msgs[0].Control(protocol.HeaderPrefix + "content-length")
			assert.Equal(t, "10", got)
		})
	}
}

func TestHTTPRequestRejectsOversizeBody(t *testing.T) {
	head := helloHead + "Content-Length: 11\r\n\r\n"

	t.Run("same call", func(t *testing.T) {
		p := protocol.NewHTTPRequest(10, 0)
		var c collector
		err := p.Received([]byte(head+"01234567890"), c.emit)
		require.ErrorIs(t, err, api.ErrFramingViolation)
		assert.Empty(t, c.msgs)
	})

	t.Run("later call", func(t *testing.T) {
		p := protocol.NewHTTPRequest(10, 0)
		var c collector
		require.NoError(t, p.Received([]byte(head[:20]), c.emit))
		err := p.Received([]byte(head[20:]), c.emit)
		require.ErrorIs(t, err, api.ErrFramingViolation)
		err = p.Received([]byte("01234567890"), c.emit)
		require.ErrorIs(t, err, api.ErrFramingViolation)
		assert.Empty(t, c.msgs)
	})
}

func TestHTTPRequestIncompleteIsNotAnError(t *testing.T) {
	p := protocol.NewHTTPRequest(10, 0)
	var c collector
	require.NoError(t, p.Received([]byte("GET /hel"), c.emit))
	require.NoError(t, p.Received([]byte("lo HTTP/1.1\r\nhost: x\r\n"), c.emit))
	require.NoError(t, p.Received([]byte("\r"), c.emit))
	assert.Empty(t, c.msgs)
	require.NoError(t, p.Received([]byte("\n"), c.emit))
	assert.Len(t, c.msgs, 1)
}

func TestHTTPRequestPipelined(t *testing.T) {
	p := protocol.NewHTTPRequest(10, 0)
	var c collector
	in := "GET /a HTTP/1.1\r\n\r\nPOST /b HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi\r\nGET /c HTTP/1.0\r\n\r\n"
	require.NoError(t, p.Received([]byte(in), c.emit))
	require.Len(t, c.msgs, 3)

	paths := make([]string, 0, 3)
	for _, m := range c.msgs {
		path, _ := m.Control(protocol.KeyPath)
		paths = append(paths, path)
	}
	assert.Equal(t, []string{"/a", "/b", "/c"}, paths)
	assert.Equal(t, "hi", string(c.msgs[1].Payload()))
}

func TestHTTPRequestMalformed(t *testing.T) {
	inputs := []string{
		"GET /only-two\r\n\r\n",
		"GET / FTP/1.0\r\n\r\n",
		"GET / HTTP/1.1\r\nno-colon\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: -1\r\n\r\n",
	}
	for _, in := range inputs {
		p := protocol.NewHTTPRequest(10, 0)
		var c collector
		require.ErrorIs(t, p.Received([]byte(in), c.emit), api.ErrFramingViolation, in)
		assert.Empty(t, c.msgs)
	}
}

func TestHTTPRequestMaxHeaderBytes(t *testing.T) {
	p := protocol.NewHTTPRequest(10, 32)
	var c collector
	require.NoError(t, p.Received([]byte("GET / HTTP/1.1\r\n"), c.emit))
	err := p.Received([]byte("x-long: "+strings.Repeat("a", 40)), c.emit)
	require.ErrorIs(t, err, api.ErrFramingViolation)
}

func TestHTTPPrepareResponse(t *testing.T) {
	p := protocol.NewHTTPRequest(0, 0)
	msg := buffer.NewStringMessage("hi")
	msg.SetControl(protocol.KeyStatus, "404")
	msg.SetControl(protocol.HeaderPrefix+"x-b", "2")
	msg.SetControl(protocol.HeaderPrefix+"x-a", "1")

	out, err := p.PrepareMessageToSend(msg)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\nx-a: 1\r\nx-b: 2\r\nContent-Length: 2\r\n\r\nhi", string(wire(out)))
}

func TestHTTPPrepareRequestRoundTrip(t *testing.T) {
	p := protocol.NewHTTPRequest(0, 0)
	msg := buffer.NewStringMessage("body")
	msg.SetControl(protocol.KeyMethod, "POST")
	msg.SetControl(protocol.KeyPath, "/submit")
	msg.SetControl(protocol.QueryPrefix+"k", "v w")
	msg.SetControl(protocol.HeaderPrefix+"host", "example")

	out, err := p.PrepareMessageToSend(msg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(wire(out)), "POST /submit?k=v+w HTTP/1.1\r\n"))

	var c collector
	require.NoError(t, protocol.NewHTTPRequest(0, 0).Received(wire(out), c.emit))
	require.Len(t, c.msgs, 1)
	got, _ := c.msgs[0].Control(protocol.QueryPrefix + "k")
	assert.Equal(t, "v w", got)
	assert.Equal(t, "body", string(c.msgs[0].Payload()))
}

func TestHTTPPrepareRejectsBadStatus(t *testing.T) {
	msg := buffer.NewStringMessage("")
	msg.SetControl(protocol.KeyStatus, "abc")
	_, err := protocol.NewHTTPRequest(0, 0).PrepareMessageToSend(msg)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}
