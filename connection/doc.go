// Package connection
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream connections multiplexed through a single poller goroutine.
//
// A StreamConnectionContainer binds listeners, connects outgoing sockets
// with optional reconnect and expiry, frames inbound bytes through each
// connection's protocol instance and writes outbound messages with vectored
// writes. Lifecycle per connection:
//
//	(none) -> CONNECTING -> CONNECTED -> DISCONNECTED
//
// Every connection instance gets at most one Connected and exactly one
// Disconnected notification. A dropped outgoing connection with a reconnect
// interval is succeeded by a new instance that inherits its queued messages.
package connection
