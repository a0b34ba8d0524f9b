// File: connection/callback.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import "github.com/momentics/hioload-link/core/buffer"

// Callback receives connection notifications on the poll goroutine.
// Implementations must not block; they may call any container method.
type Callback interface {
	Connected(c *StreamConnection)
	Disconnected(c *StreamConnection)
	Received(c *StreamConnection, msg *buffer.Message)
}

// ReplacementObserver is implemented by callbacks that track reconnects.
// Replaced runs before Disconnected(prev) when a dropped connection is
// succeeded by next, a fresh connection to the same endpoint.
type ReplacementObserver interface {
	Replaced(prev, next *StreamConnection)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	OnConnected    func(c *StreamConnection)
	OnDisconnected func(c *StreamConnection)
	OnReceived     func(c *StreamConnection, msg *buffer.Message)
}

func (f CallbackFuncs) Connected(c *StreamConnection) {
	if f.OnConnected != nil {
		f.OnConnected(c)
	}
}

func (f CallbackFuncs) Disconnected(c *StreamConnection) {
	if f.OnDisconnected != nil {
		f.OnDisconnected(c)
	}
}

func (f CallbackFuncs) Received(c *StreamConnection, msg *buffer.Message) {
	if f.OnReceived != nil {
		f.OnReceived(c, msg)
	}
}
