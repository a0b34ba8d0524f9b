// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the session layer.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("operation not supported")
	ErrClosed            = errors.New("container is closed")
	ErrFramingViolation  = errors.New("framing violation")
	ErrUnknownProtocol   = errors.New("unknown protocol")
	ErrPollerFailure     = errors.New("poller failure")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrReconnectExpired  = errors.New("reconnect expired")
	ErrConnectionRefused = errors.New("connection failed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeInvalidState
	ErrCodeNotFound
	ErrCodeNotSupported
	ErrCodeFraming
	ErrCodeIO
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeInvalidState:
		return "invalid_state"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeNotSupported:
		return "not_supported"
	case ErrCodeFraming:
		return "framing"
	case ErrCodeIO:
		return "io"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
// It unwraps to Cause so errors.Is matches the sentinel it was built from.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around cause.
func Wrap(code ErrorCode, cause error, message string) *Error {
	e := NewError(code, message)
	e.Cause = cause
	if cause != nil {
		e.Message = message + ": " + cause.Error()
	}
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, ErrCodeInternal for foreign
// errors and ErrCodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
