// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "errors"

// ErrWouldBlock reports that a non-blocking socket operation must be retried
// after the next readiness notification.
var ErrWouldBlock = errors.New("transport: operation would block")

// maxIovecs caps the number of segments passed to one writev call.
const maxIovecs = 1024

// DefaultBacklog is the listen backlog used when none is configured.
const DefaultBacklog = 128
