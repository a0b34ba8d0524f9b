// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Reload hooks invoked with a freshly loaded configuration.

package control

import (
	"slices"
	"sync"
)

// Reloader re-reads a config file and dispatches the result to registered hooks.
type Reloader struct {
	path string

	mu      sync.Mutex
	hooks   []func(Config)
	current Config
}

// NewReloader creates a reloader for path, starting from current.
func NewReloader(path string, current Config) *Reloader {
	return &Reloader{path: path, current: current}
}

// OnReload registers a hook called synchronously after every successful reload.
func (r *Reloader) OnReload(fn func(Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Current returns the last applied configuration.
func (r *Reloader) Current() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reload loads the file and invokes the hooks. On error the current
// configuration is kept and no hook runs.
func (r *Reloader) Reload() (Config, error) {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		return Config{}, err
	}
	r.mu.Lock()
	r.current = cfg
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(cfg)
	}
	return cfg, nil
}
