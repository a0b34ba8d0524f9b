// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"strconv"
	"sync/atomic"
)

// ConnectionID identifies one stream connection instance. Unique per process and monotonic.
type ConnectionID uint64

// SessionID identifies a protocol session. Stable across reconnects.
type SessionID uint64

// ProtocolID is the stable numeric id of a framing protocol variant.
type ProtocolID uint32

func (id ConnectionID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id SessionID) String() string    { return strconv.FormatUint(uint64(id), 10) }

var (
	lastConnectionID atomic.Uint64
	lastSessionID    atomic.Uint64
)

// NextConnectionID returns a new process-unique connection id.
func NextConnectionID() ConnectionID {
	return ConnectionID(lastConnectionID.Add(1))
}

// NextSessionID returns a new process-unique session id.
func NextSessionID() SessionID {
	return SessionID(lastSessionID.Add(1))
}

// ConnectionState enumerates the lifecycle of a stream connection.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
