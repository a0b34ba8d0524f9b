//go:build !linux
// +build !linux

// File: reactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-link/api"
)

var errUnsupported = errors.Join(api.ErrNotSupported, errors.New("reactor: this platform is not supported"))

// Poller is unavailable on this platform.
type Poller struct{}

// NewPoller returns an error for unsupported platforms.
func NewPoller() (*Poller, error) { return nil, errUnsupported }

func (p *Poller) AddSocket(int) error {
	return errUnsupported
}

func (p *Poller) AddListenSocket(int) error {
	return errUnsupported
}

func (p *Poller) RemoveSocket(int) error {
	return errUnsupported
}

func (p *Poller) EnableRead(int) error {
	return errUnsupported
}

func (p *Poller) DisableRead(int) error {
	return errUnsupported
}

func (p *Poller) EnableWrite(int) error {
	return errUnsupported
}

func (p *Poller) DisableWrite(int) error {
	return errUnsupported
}

func (p *Poller) Interrupt() {}

func (p *Poller) Watched() int {
	return 0
}

func (p *Poller) Wait(int) (PollerResult, error) {
	return PollerResult{}, errUnsupported
}

func (p *Poller) Close() error {
	return nil
}
