// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pluggable framing state machines that turn a byte stream into discrete
// messages and prepare outgoing messages for the wire. Variants are looked up
// by name or numeric id in a process-wide registry populated at init:
//
//	delimiter       1  "\n" terminated segments
//	delimiter_long  2  "\r\n\r\n" terminated segments
//	headersize      3  4-byte big-endian length header
//	http            4  HTTP/1.x request framing with Content-Length bodies
//
// Framing that only needs more bytes is never an error. Framing that is
// definitively invalid returns an error wrapping api.ErrFramingViolation and
// the protocol instance keeps rejecting from then on.
package protocol
