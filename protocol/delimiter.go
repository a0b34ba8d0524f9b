// File: protocol/delimiter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bytes"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
)

// Delimiter frames messages terminated by an arbitrary non-empty byte sequence.
// A delimiter split across Received calls is matched; bytes after the last
// delimiter stay buffered.
type Delimiter struct {
	id    api.ProtocolID
	name  string
	delim []byte
	max   int

	acc      []byte
	scanned  int // acc[:scanned] holds no delimiter start
	rejected bool
}

// NewDelimiter creates a delimiter protocol. It panics on an empty delimiter.
func NewDelimiter(id api.ProtocolID, name string, delim []byte) *Delimiter {
	if len(delim) == 0 {
		panic("protocol: empty delimiter")
	}
	return &Delimiter{id: id, name: name, delim: append([]byte(nil), delim...)}
}

// WithMaxMessageSize rejects segments longer than n bytes. 0 disables the check.
func (d *Delimiter) WithMaxMessageSize(n int) *Delimiter {
	d.max = n
	return d
}

func (d *Delimiter) ID() api.ProtocolID { return d.id }
func (d *Delimiter) Name() string       { return d.name }

// Delim returns the configured delimiter.
func (d *Delimiter) Delim() []byte { return d.delim }

// Received implements FramingProtocol.
func (d *Delimiter) Received(data []byte, emit EmitFunc) error {
	if d.rejected {
		return violation("%s: stream already rejected", d.name)
	}
	d.acc = append(d.acc, data...)

	start := 0
	search := d.scanned
	for {
		i := bytes.Index(d.acc[search:], d.delim)
		if i < 0 {
			break
		}
		end := search + i
		if d.max > 0 && end-start > d.max {
			d.rejected = true
			return violation("%s: message of %d bytes exceeds %d", d.name, end-start, d.max)
		}
		emit(buffer.NewReceivedMessage(d.acc[start:end:end]))
		start = end + len(d.delim)
		search = start
	}

	rest := len(d.acc) - start
	if d.max > 0 && rest > d.max+len(d.delim) {
		d.rejected = true
		return violation("%s: unterminated message exceeds %d bytes", d.name, d.max)
	}
	d.acc = compact(d.acc, start)
	// a delimiter may still complete from the last len(delim)-1 bytes
	d.scanned = max(0, rest-(len(d.delim)-1))
	return nil
}

// PrepareMessageToSend appends the delimiter as trailer.
func (d *Delimiter) PrepareMessageToSend(msg *buffer.Message) (*buffer.Message, error) {
	msg.SetFraming(nil, d.delim)
	return msg, nil
}

// Buffered returns the number of bytes waiting for a delimiter.
func (d *Delimiter) Buffered() int { return len(d.acc) }
