//go:build !linux
// +build !linux

// File: internal/transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package transport

import (
	"net"

	"github.com/momentics/hioload-link/api"
)

func Listen(string, int) (int, *net.TCPAddr, error) { return -1, nil, api.ErrNotSupported }

func Accept(int) (int, string, error) { return -1, "", api.ErrNotSupported }

func Dial(string) (int, bool, error) { return -1, false, api.ErrNotSupported }

func ConnectError(int) error { return api.ErrNotSupported }

func Read(int, []byte) (int, error) { return 0, api.ErrNotSupported }

func Writev(int, [][]byte) (int, error) { return 0, api.ErrNotSupported }

func LocalAddr(int) string { return "" }

func Close(int) error { return api.ErrNotSupported }
