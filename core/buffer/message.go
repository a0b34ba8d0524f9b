// File: core/buffer/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message is one discrete unit of payload plus string control data.

package buffer

import "maps"

// Message carries a send-side buffer chain, a receive-side payload view and
// protocol-specific control data. A Message is owned by one goroutine at a time;
// after SendMessage it belongs to the transport.
type Message struct {
	buf     *ZeroCopyBuffer
	payload BufferRef
	control map[string]string

	prefix []byte
	suffix []byte
}

// NewMessage creates an empty outgoing message backed by DefaultPool.
func NewMessage() *Message {
	return &Message{buf: NewZeroCopyBuffer(DefaultPool)}
}

// NewMessageWithBuffer creates an outgoing message over an existing chain.
func NewMessageWithBuffer(buf *ZeroCopyBuffer) *Message {
	return &Message{buf: buf}
}

// NewStringMessage creates an outgoing message holding s.
func NewStringMessage(s string) *Message {
	m := NewMessage()
	_ = m.buf.Append([]byte(s))
	return m
}

// NewReceivedMessage wraps a framed payload. The payload slice is referenced, not copied.
func NewReceivedMessage(payload []byte) *Message {
	return &Message{
		buf:     NewZeroCopyBuffer(nil),
		payload: BufferRef{Data: payload, Length: len(payload)},
	}
}

// Payload returns the receive-side payload view.
func (m *Message) Payload() []byte {
	return m.payload.Bytes()
}

// PayloadRef returns the receive-side buffer ref.
func (m *Message) PayloadRef() BufferRef {
	return m.payload
}

// Buffer returns the send-side chain.
func (m *Message) Buffer() *ZeroCopyBuffer {
	return m.buf
}

// Writer returns a block writer appending to the send-side chain.
func (m *Message) Writer(blockSize int) *Writer {
	return NewWriter(m.buf, blockSize)
}

// Append copies p onto the end of the send-side chain.
func (m *Message) Append(p []byte) error {
	return m.buf.Append(p)
}

// SetControl sets a control-data entry.
func (m *Message) SetControl(key, value string) {
	if m.control == nil {
		m.control = make(map[string]string)
	}
	m.control[key] = value
}

// Control returns a control-data entry.
func (m *Message) Control(key string) (string, bool) {
	v, ok := m.control[key]
	return v, ok
}

// DeleteControl removes a control-data entry.
func (m *Message) DeleteControl(key string) {
	delete(m.control, key)
}

// ControlData returns a copy of all control data.
func (m *Message) ControlData() map[string]string {
	out := make(map[string]string, len(m.control))
	maps.Copy(out, m.control)
	return out
}

// SetFraming installs the framing header and trailer written around the chain.
func (m *Message) SetFraming(prefix, suffix []byte) {
	m.prefix = prefix
	m.suffix = suffix
}

// BodyLen returns the number of bytes in the send-side chain, without framing.
func (m *Message) BodyLen() int {
	return m.buf.Len()
}

// SendBuffers returns framing header, chain views and trailer in write order.
func (m *Message) SendBuffers() [][]byte {
	chain := m.buf.GetAllSendBuffers()
	out := make([][]byte, 0, len(chain)+2)
	if len(m.prefix) > 0 {
		out = append(out, m.prefix)
	}
	out = append(out, chain...)
	if len(m.suffix) > 0 {
		out = append(out, m.suffix)
	}
	return out
}

// SendLen returns the total number of bytes SendBuffers will produce.
func (m *Message) SendLen() int {
	return len(m.prefix) + m.buf.Len() + len(m.suffix)
}

// Release returns the send-side regions to their pool.
func (m *Message) Release() {
	m.buf.Release()
	m.prefix = nil
	m.suffix = nil
}
