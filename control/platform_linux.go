//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes adds host probes to dp.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("platform.open_fds", func() any {
		entries, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			return -1
		}
		return len(entries)
	})
}
