// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness Poller: a level-triggered socket
// multiplexer (epoll on Linux) paired with a control socket pair so that any
// goroutine can interrupt a blocked Wait to change the watch set or hand work
// to the poll goroutine.
//
// Exactly one goroutine may be inside Wait at a time. Every other method is
// safe to call concurrently with it.
package reactor
