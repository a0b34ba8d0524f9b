// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux sockets via x/sys/unix: non-blocking TCP with vectored writes.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	default:
		return nil
	}
}

func newSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	return fd, nil
}

// Listen opens a non-blocking listening socket and returns it with the
// effective bound address (useful when port 0 was requested).
func Listen(address string, backlog int) (int, *net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	family, sa := sockaddr(addr)
	fd, err := newSocket(family)
	if err != nil {
		return -1, nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("bind %s: %w", address, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("listen %s: %w", address, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, toTCPAddr(bound), nil
}

// Accept takes one pending connection from a listening socket.
func Accept(lfd int) (int, string, error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ECONNABORTED) {
			return -1, "", ErrWouldBlock
		}
		return -1, "", fmt.Errorf("accept: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	peer := ""
	if a := toTCPAddr(sa); a != nil {
		peer = a.String()
	}
	return fd, peer, nil
}

// Dial starts a non-blocking connect. When connected is false the connect is
// in progress; completion is signalled by write readiness and checked with
// ConnectError.
func Dial(address string) (fd int, connected bool, err error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, false, fmt.Errorf("resolve %s: %w", address, err)
	}
	if addr.IP == nil {
		addr.IP = net.IPv4(127, 0, 0, 1)
	}
	family, sa := sockaddr(addr)
	fd, err = newSocket(family)
	if err != nil {
		return -1, false, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		return fd, true, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		return fd, false, nil
	default:
		_ = unix.Close(fd)
		return -1, false, fmt.Errorf("connect %s: %w", address, err)
	}
}

// ConnectError returns the pending socket error of a connecting socket.
func ConnectError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("connect: %w", unix.Errno(code))
	}
	return nil
}

// Read reads into p. io.EOF reports an orderly peer close.
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("read: %w", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Writev writes bufs with one vectored write and returns the bytes written.
// A full kernel send buffer yields (0, ErrWouldBlock).
func Writev(fd int, bufs [][]byte) (int, error) {
	if len(bufs) > maxIovecs {
		bufs = bufs[:maxIovecs]
	}
	n, err := unix.Writev(fd, bufs)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("writev: %w", err)
	}
	return n, nil
}

// LocalAddr returns the local address of fd.
func LocalAddr(fd int) string {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return ""
	}
	if a := toTCPAddr(sa); a != nil {
		return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
	}
	return ""
}

// Close closes the socket.
func Close(fd int) error {
	return unix.Close(fd)
}
