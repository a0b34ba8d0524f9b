// File: protocol/header_length.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Binary length-prefixed framing with payload size enforcement.

package protocol

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
)

// HeaderLength frames messages behind a fixed-width big-endian length header.
type HeaderLength struct {
	width      int
	maxPayload int
	reconnect  *Reconnect

	acc      []byte
	rejected bool
}

// NewHeaderLength creates a length-prefixed protocol. width must be 2, 4 or 8;
// anything else selects 4.
func NewHeaderLength(width, maxPayload int) *HeaderLength {
	switch width {
	case 2, 4, 8:
	default:
		width = 4
	}
	return &HeaderLength{width: width, maxPayload: maxPayload}
}

// WithReconnect attaches a default reconnect policy for connections using this protocol.
func (h *HeaderLength) WithReconnect(interval, expiry time.Duration, maxAttempts int) *HeaderLength {
	h.reconnect = &Reconnect{Interval: interval, Expiry: expiry, MaxAttempts: maxAttempts}
	return h
}

// ReconnectPolicy implements Reconnector.
func (h *HeaderLength) ReconnectPolicy() (Reconnect, bool) {
	if h.reconnect == nil {
		return Reconnect{}, false
	}
	return *h.reconnect, true
}

func (h *HeaderLength) ID() api.ProtocolID { return IDHeaderSize }
func (h *HeaderLength) Name() string       { return "headersize" }

func (h *HeaderLength) decode(b []byte) uint64 {
	switch h.width {
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		return uint64(binary.BigEndian.Uint32(b))
	}
}

func (h *HeaderLength) limit() int {
	if h.maxPayload <= 0 {
		return math.MaxInt32
	}
	return h.maxPayload
}

// Received implements FramingProtocol.
func (h *HeaderLength) Received(data []byte, emit EmitFunc) error {
	if h.rejected {
		return violation("headersize: stream already rejected")
	}
	h.acc = append(h.acc, data...)

	start := 0
	for len(h.acc)-start >= h.width {
		n := h.decode(h.acc[start : start+h.width])
		if n > uint64(h.limit()) {
			h.rejected = true
			return violation("headersize: declared payload %d exceeds %d", n, h.limit())
		}
		end := start + h.width + int(n)
		if len(h.acc) < end {
			break
		}
		emit(buffer.NewReceivedMessage(h.acc[start+h.width : end : end]))
		start = end
	}
	h.acc = compact(h.acc, start)
	return nil
}

// PrepareMessageToSend installs the length header.
func (h *HeaderLength) PrepareMessageToSend(msg *buffer.Message) (*buffer.Message, error) {
	n := msg.BodyLen()
	if n > h.limit() {
		return nil, violation("headersize: payload %d exceeds %d", n, h.limit())
	}
	hdr := make([]byte, h.width)
	switch h.width {
	case 2:
		if n > 0xFFFF {
			return nil, violation("headersize: payload %d does not fit 2-byte header", n)
		}
		binary.BigEndian.PutUint16(hdr, uint16(n))
	case 8:
		binary.BigEndian.PutUint64(hdr, uint64(n))
	default:
		binary.BigEndian.PutUint32(hdr, uint32(n))
	}
	msg.SetFraming(hdr, nil)
	return msg, nil
}
