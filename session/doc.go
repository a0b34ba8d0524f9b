// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol sessions: stable identities over replaceable stream connections.
//
// A ProtocolSession keeps its SessionID, attributes and queued messages when
// the connection beneath it is dropped and replaced by a reconnect. Only the
// current connection pointer changes. The session ends when its current
// connection is torn down for good or when Disconnect is called.
package session
