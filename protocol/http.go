// File: protocol/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental HTTP/1.x request framing. Request line, headers and query
// parameters are surfaced as message control data; a Content-Length body
// becomes the message payload.

package protocol

import (
	"bytes"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/core/buffer"
)

// Control-data keys populated on receive and read on send.
const (
	KeyMethod    = "http.method"
	KeyPath      = "http.path"
	KeyVersion   = "http.version"
	KeyRawQuery  = "http.rawquery"
	KeyStatus    = "http.status"
	KeyReason    = "http.reason"
	HeaderPrefix = "http.header."
	QueryPrefix  = "http.query."
)

const headerContentLength = "content-length"

var crlf2 = []byte("\r\n\r\n")

type httpState int

const (
	httpHead httpState = iota
	httpBody
	httpRejected
)

// HTTPRequest frames HTTP/1.x requests.
type HTTPRequest struct {
	maxContentLength int
	maxHeaderBytes   int

	acc     []byte
	scanned int
	state   httpState
	control map[string]string
	bodyLen int
}

// NewHTTPRequest creates an HTTP framing instance. A declared Content-Length
// above maxContentLength, or a head block above maxHeaderBytes, is rejected.
// Non-positive limits disable the respective check.
func NewHTTPRequest(maxContentLength, maxHeaderBytes int) *HTTPRequest {
	return &HTTPRequest{maxContentLength: maxContentLength, maxHeaderBytes: maxHeaderBytes}
}

func (h *HTTPRequest) ID() api.ProtocolID { return IDHTTP }
func (h *HTTPRequest) Name() string       { return "http" }

func (h *HTTPRequest) reject(format string, args ...any) error {
	h.state = httpRejected
	h.acc = nil
	h.control = nil
	return violation(format, args...)
}

// Received implements FramingProtocol.
func (h *HTTPRequest) Received(data []byte, emit EmitFunc) error {
	if h.state == httpRejected {
		return violation("http: request already rejected")
	}
	h.acc = append(h.acc, data...)

	start := 0
	for {
		if h.state == httpBody {
			if len(h.acc)-start < h.bodyLen {
				break
			}
			end := start + h.bodyLen
			h.emit(h.acc[start:end:end], emit)
			start = end
			h.state = httpHead
			continue
		}

		// tolerate empty lines between requests
		for len(h.acc)-start >= 2 && h.acc[start] == '\r' && h.acc[start+1] == '\n' {
			start += 2
		}
		from := max(start, h.scanned-(len(crlf2)-1))
		i := bytes.Index(h.acc[from:], crlf2)
		if i < 0 {
			if h.maxHeaderBytes > 0 && len(h.acc)-start > h.maxHeaderBytes {
				return h.reject("http: head exceeds %d bytes", h.maxHeaderBytes)
			}
			h.scanned = len(h.acc)
			break
		}
		headEnd := from + i
		if h.maxHeaderBytes > 0 && headEnd-start > h.maxHeaderBytes {
			return h.reject("http: head exceeds %d bytes", h.maxHeaderBytes)
		}
		control, contentLength, err := parseHead(h.acc[start:headEnd])
		if err != nil {
			h.state = httpRejected
			h.acc = nil
			return err
		}
		if h.maxContentLength > 0 && contentLength > h.maxContentLength {
			return h.reject("http: content length %d exceeds %d", contentLength, h.maxContentLength)
		}
		start = headEnd + len(crlf2)
		h.scanned = start
		h.control = control
		if contentLength == 0 {
			h.emit(nil, emit)
			continue
		}
		h.bodyLen = contentLength
		h.state = httpBody
	}

	h.acc = compact(h.acc, start)
	h.scanned = max(0, h.scanned-start)
	return nil
}

func (h *HTTPRequest) emit(payload []byte, emit EmitFunc) {
	msg := buffer.NewReceivedMessage(payload)
	for k, v := range h.control {
		msg.SetControl(k, v)
	}
	h.control = nil
	h.bodyLen = 0
	emit(msg)
}

func parseHead(head []byte) (map[string]string, int, error) {
	lines := strings.Split(string(head), "\r\n")
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, 0, violation("http: malformed request line %q", lines[0])
	}
	control := map[string]string{
		KeyMethod:  parts[0],
		KeyVersion: parts[2],
	}
	path, rawQuery, hasQuery := strings.Cut(parts[1], "?")
	control[KeyPath] = path
	if hasQuery {
		control[KeyRawQuery] = rawQuery
		values, err := url.ParseQuery(rawQuery)
		if err != nil {
			return nil, 0, violation("http: malformed query %q", rawQuery)
		}
		for k, vs := range values {
			if len(vs) > 0 {
				control[QueryPrefix+k] = vs[0]
			}
		}
	}

	contentLength := 0
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return nil, 0, violation("http: malformed header line %q", line)
		}
		value = strings.TrimSpace(value)
		if prev, dup := control[HeaderPrefix+name]; dup {
			value = prev + ", " + value
		}
		control[HeaderPrefix+name] = value
		if name == headerContentLength {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, 0, violation("http: bad content length %q", value)
			}
			contentLength = n
		}
	}
	return control, contentLength, nil
}

// PrepareMessageToSend writes a status line when http.status is set, else a
// request line from http.method/http.path/http.query.*, followed by the
// http.header.* entries and a Content-Length for the chain.
func (h *HTTPRequest) PrepareMessageToSend(msg *buffer.Message) (*buffer.Message, error) {
	control := msg.ControlData()
	version := control[KeyVersion]
	if version == "" {
		version = "HTTP/1.1"
	}

	var sb strings.Builder
	status, isResponse := control[KeyStatus]
	method, isRequest := control[KeyMethod]
	switch {
	case isResponse || !isRequest:
		if status == "" {
			status = "200"
		}
		code, err := strconv.Atoi(status)
		if err != nil || code < 100 || code > 999 {
			return nil, api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument, "http: bad status "+status)
		}
		reason := control[KeyReason]
		if reason == "" {
			reason = http.StatusText(code)
		}
		sb.WriteString(version + " " + strconv.Itoa(code) + " " + reason + "\r\n")
	default:
		path := control[KeyPath]
		if path == "" {
			path = "/"
		}
		sb.WriteString(method + " " + path + encodeQuery(control) + " " + version + "\r\n")
	}

	keys := make([]string, 0, len(control))
	for k := range control {
		if strings.HasPrefix(k, HeaderPrefix) && k != HeaderPrefix+headerContentLength {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(strings.TrimPrefix(k, HeaderPrefix) + ": " + control[k] + "\r\n")
	}
	sb.WriteString("Content-Length: " + strconv.Itoa(msg.BodyLen()) + "\r\n\r\n")

	msg.SetFraming([]byte(sb.String()), nil)
	return msg, nil
}

func encodeQuery(control map[string]string) string {
	values := url.Values{}
	for k, v := range control {
		if name, ok := strings.CutPrefix(k, QueryPrefix); ok {
			values.Set(name, v)
		}
	}
	if len(values) == 0 {
		if raw := control[KeyRawQuery]; raw != "" {
			return "?" + raw
		}
		return ""
	}
	return "?" + values.Encode()
}
