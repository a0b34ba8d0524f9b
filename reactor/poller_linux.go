//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with a control socket pair for cross-goroutine wakeups.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-link/api"
)

const maxEvents = 128

// Poller is a level-triggered epoll multiplexer.
type Poller struct {
	epfd  int
	ctrlR int // control pair read end, always watched
	ctrlW int

	mu    sync.Mutex
	watch map[int]*watchEntry

	events      []unix.EpollEvent
	wakePending atomic.Bool
	interrupted atomic.Bool
	closed      atomic.Bool
}

// NewPoller creates the epoll instance and the control pair.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("control pair: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pair[0])}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pair[0], &ev); err != nil {
		_ = unix.Close(pair[0])
		_ = unix.Close(pair[1])
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add control: %w", err)
	}
	return &Poller{
		epfd:   epfd,
		ctrlR:  pair[0],
		ctrlW:  pair[1],
		watch:  make(map[int]*watchEntry),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// AddSocket starts watching a stream socket with no interest set.
func (p *Poller) AddSocket(fd int) error {
	return p.add(fd, false)
}

// AddListenSocket starts watching a listening socket. Readiness of a listener
// means a pending accept, so no bytes-available query is made for it.
func (p *Poller) AddListenSocket(fd int) error {
	return p.add(fd, true)
}

func (p *Poller) add(fd int, listener bool) error {
	if p.closed.Load() {
		return api.ErrClosed
	}
	p.mu.Lock()
	if _, ok := p.watch[fd]; ok {
		p.mu.Unlock()
		return fmt.Errorf("socket %d: %w", fd, api.ErrInvalidState)
	}
	p.watch[fd] = &watchEntry{listener: listener}
	p.mu.Unlock()
	p.wake()
	return nil
}

// RemoveSocket stops watching fd. Removing an unknown socket is a no-op.
func (p *Poller) RemoveSocket(fd int) error {
	p.mu.Lock()
	e, ok := p.watch[fd]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.watch, fd)
	var err error
	if e.registered {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
			err = nil
		}
	}
	p.mu.Unlock()
	p.wake()
	if err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// EnableRead adds read interest for fd.
func (p *Poller) EnableRead(fd int) error { return p.update(fd, InterestRead, 0) }

// DisableRead drops read interest for fd.
func (p *Poller) DisableRead(fd int) error { return p.update(fd, 0, InterestRead) }

// EnableWrite adds write interest for fd.
func (p *Poller) EnableWrite(fd int) error { return p.update(fd, InterestWrite, 0) }

// DisableWrite drops write interest for fd.
func (p *Poller) DisableWrite(fd int) error { return p.update(fd, 0, InterestWrite) }

func (p *Poller) update(fd int, set, clear Interest) error {
	p.mu.Lock()
	e, ok := p.watch[fd]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("socket %d: %w", fd, api.ErrNotFound)
	}
	next := (e.interest | set) &^ clear
	if next == e.interest && (next == 0) != e.registered {
		p.mu.Unlock()
		return nil
	}
	err := p.apply(fd, e, next)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.wake()
	return nil
}

// apply syncs the kernel interest set with next. Sockets without interest are
// kept out of epoll so a hung-up socket cannot spin the loop. Caller holds p.mu.
func (p *Poller) apply(fd int, e *watchEntry, next Interest) error {
	var mask uint32
	if next&InterestRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if next&InterestWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	var err error
	switch {
	case mask == 0 && e.registered:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		e.registered = false
	case mask == 0:
	case e.registered:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	default:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		if err == nil {
			e.registered = true
		}
	}
	if err != nil {
		return fmt.Errorf("epoll ctl fd=%d: %w", fd, err)
	}
	e.interest = next
	return nil
}

// Interrupt makes the current (or next) Wait return with Interrupted set.
func (p *Poller) Interrupt() {
	p.interrupted.Store(true)
	p.wake()
}

// wake writes one byte into the control pair unless a wakeup is already pending.
func (p *Poller) wake() {
	if p.closed.Load() || !p.wakePending.CompareAndSwap(false, true) {
		return
	}
	if _, err := unix.Write(p.ctrlW, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		p.wakePending.Store(false)
	}
}

// drainControl empties the control pair, then clears wakePending. A wake
// racing with it always leaves a byte behind.
func (p *Poller) drainControl() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.ctrlR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	p.wakePending.Store(false)
}

// Watched returns the number of watched sockets.
func (p *Poller) Watched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watch)
}

// Wait blocks until a watched socket is ready, timeoutMs elapses (negative
// blocks indefinitely) or Interrupt is called. Wakeups caused only by watch
// set mutations are absorbed and the wait resumes against the new set.
// An error means epoll itself failed and wraps api.ErrPollerFailure.
func (p *Poller) Wait(timeoutMs int) (PollerResult, error) {
	if p.closed.Load() {
		return PollerResult{}, fmt.Errorf("%w: %w", api.ErrPollerFailure, api.ErrClosed)
	}
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	remaining := timeoutMs

	for {
		n, err := unix.EpollWait(p.epfd, p.events, remaining)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return PollerResult{}, fmt.Errorf("%w: epoll wait: %w", api.ErrPollerFailure, err)
		}

		woke := false
		var infos []DescriptorInfo
		if n > 0 {
			p.mu.Lock()
			for _, ev := range p.events[:n] {
				fd := int(ev.Fd)
				if fd == p.ctrlR {
					woke = true
					continue
				}
				if info, ok := p.describe(fd, ev.Events); ok {
					infos = append(infos, info)
				}
			}
			p.mu.Unlock()
		}
		if woke {
			p.drainControl()
		}
		interrupted := p.interrupted.Swap(false)
		if len(infos) > 0 || interrupted {
			return PollerResult{Interrupted: interrupted, DescriptorInfos: infos}, nil
		}

		switch {
		case timeoutMs == 0:
			return PollerResult{Timeout: true}, nil
		case timeoutMs > 0:
			left := time.Until(deadline)
			if left <= 0 {
				return PollerResult{Timeout: true}, nil
			}
			remaining = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		if !woke && err == nil && n == 0 {
			return PollerResult{Timeout: true}, nil
		}
	}
}

// describe classifies one raw event against the current watch set, so
// readiness of sockets removed or narrowed since the kernel reported it is
// dropped. Caller holds p.mu.
func (p *Poller) describe(fd int, events uint32) (DescriptorInfo, bool) {
	e, ok := p.watch[fd]
	if !ok || e.interest == 0 {
		return DescriptorInfo{}, false
	}
	info := DescriptorInfo{Socket: fd}
	failed := events&(unix.EPOLLERR|unix.EPOLLHUP) != 0

	if e.interest&InterestRead != 0 && events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		info.Readable = true
		if e.listener {
			info.Disconnected = failed
		} else {
			avail, err := unix.IoctlGetInt(fd, unix.SIOCINQ)
			if err != nil || avail <= 0 {
				info.Disconnected = true
			} else {
				info.BytesToRead = avail
			}
		}
	}
	if e.interest&InterestWrite != 0 && events&unix.EPOLLOUT != 0 {
		info.Writable = true
	}
	if failed && !info.Readable {
		info.Disconnected = true
	}
	return info, info.Readable || info.Writable || info.Disconnected
}

// Close releases the epoll instance and the control pair.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	p.watch = make(map[int]*watchEntry)
	p.mu.Unlock()
	return errors.Join(unix.Close(p.ctrlW), unix.Close(p.ctrlR), unix.Close(p.epfd))
}
