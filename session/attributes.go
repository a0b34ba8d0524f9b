// File: session/attributes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe per-session key/value store with optional expiry.

package session

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	val    any
	expiry time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

// Attributes holds application state attached to a session. It survives
// connection replacement.
type Attributes struct {
	mu    sync.RWMutex
	store map[string]entry
}

// NewAttributes creates an empty store.
func NewAttributes() *Attributes {
	return &Attributes{store: make(map[string]entry)}
}

// Set stores value under key, clearing any expiry.
func (a *Attributes) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store[key] = entry{val: value}
}

// Get retrieves a live value.
func (a *Attributes) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.store[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.val, true
}

// Delete removes a key.
func (a *Attributes) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.store, key)
}

// WithExpiration makes an existing key expire after ttl.
func (a *Attributes) WithExpiration(key string, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.store[key]; ok {
		e.expiry = time.Now().Add(ttl)
		a.store[key] = e
	}
}

// Keys returns the live keys in sorted order.
func (a *Attributes) Keys() []string {
	now := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.store))
	for k, e := range a.store {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (a *Attributes) Clone() *Attributes {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := make(map[string]entry, len(a.store))
	for k, v := range a.store {
		cp[k] = v
	}
	return &Attributes{store: cp}
}
