// File: api/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint string parsing: scheme://host_or_*:port[:protocol[:codec]].

package api

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is the parsed form of an endpoint string.
type Endpoint struct {
	Scheme   string
	Host     string // empty means all interfaces
	Port     int
	Protocol string // registered framing protocol name, may be empty
	Codec    string // passed through for the serialization layer
}

// ParseEndpoint parses strings like "tcp://*:3001:delimiter_long" or
// "tcp://localhost:3200:headersize:protobuf".
func ParseEndpoint(s string) (Endpoint, error) {
	var ep Endpoint
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return ep, fmt.Errorf("%w: %q: missing scheme", ErrInvalidEndpoint, s)
	}
	ep.Scheme = strings.ToLower(scheme)
	if ep.Scheme != "tcp" {
		return ep, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidEndpoint, s, scheme)
	}

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return ep, fmt.Errorf("%w: %q: unterminated IPv6 host", ErrInvalidEndpoint, s)
		}
		ep.Host = rest[1:end]
		rest = strings.TrimPrefix(rest[end+1:], ":")
	} else {
		host, tail, ok := strings.Cut(rest, ":")
		if !ok {
			return ep, fmt.Errorf("%w: %q: missing port", ErrInvalidEndpoint, s)
		}
		ep.Host = host
		rest = tail
	}
	if ep.Host == "*" {
		ep.Host = ""
	}

	parts := strings.Split(rest, ":")
	if len(parts) > 3 {
		return ep, fmt.Errorf("%w: %q: too many segments", ErrInvalidEndpoint, s)
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil || port < 0 || port > 65535 {
		return ep, fmt.Errorf("%w: %q: bad port %q", ErrInvalidEndpoint, s, parts[0])
	}
	ep.Port = port
	if len(parts) > 1 {
		ep.Protocol = parts[1]
	}
	if len(parts) > 2 {
		ep.Codec = parts[2]
	}
	return ep, nil
}

// Address returns the host:port form usable for dialing or listening.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint back into its canonical string form.
func (e Endpoint) String() string {
	host := e.Host
	if host == "" {
		host = "*"
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	var sb strings.Builder
	sb.WriteString(e.Scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(e.Port))
	if e.Protocol != "" || e.Codec != "" {
		sb.WriteByte(':')
		sb.WriteString(e.Protocol)
	}
	if e.Codec != "" {
		sb.WriteByte(':')
		sb.WriteString(e.Codec)
	}
	return sb.String()
}
