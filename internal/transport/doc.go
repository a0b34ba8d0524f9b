// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP socket primitives used by the connection container:
// listen/accept, non-blocking connect with SO_ERROR completion, read and
// scatter write via writev. Descriptors are plain ints so they can be handed
// to the reactor Poller directly.
package transport
