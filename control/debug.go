// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named debug probes for runtime inspection.

package control

import (
	"sort"
	"sync"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts or replaces a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// Names returns registered probe names in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DumpState returns output of all probes. Probes run outside the lock.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		fns[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}
