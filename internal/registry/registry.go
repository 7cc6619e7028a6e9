// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package registry holds the in-memory IDE-key → IDE-endpoint bindings
// created by proxyinit and consumed by routing sessions. It is a
// hand-written mutex-guarded map rather than the pack's generic
// syncmap, because insert-if-absent must be a single atomic critical
// section: two concurrent proxyinit calls for the same key must have
// exactly one winner.
package registry

import "sync"

// Endpoint is an IDE's listening socket for inbound debugger sessions.
type Endpoint struct {
	Host string
	Port uint16
}

// Registration is the stored value for one IDE key.
type Registration struct {
	Key      string
	Endpoint Endpoint
	// Multi is the opaque -m flag from proxyinit. Stored, not
	// otherwise interpreted.
	Multi string
}

// Registry is the shared, thread-safe key -> Registration map. The
// zero value is ready to use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Registration
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Add inserts a registration for key if, and only if, key is not
// already present. It reports whether the insert happened.
func (r *Registry) Add(key string, endpoint Endpoint, multi string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return false
	}

	if r.entries == nil {
		r.entries = make(map[string]Registration)
	}
	r.entries[key] = Registration{Key: key, Endpoint: endpoint, Multi: multi}
	return true
}

// Remove deletes key if present and reports whether it was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; !exists {
		return false
	}

	delete(r.entries, key)
	return true
}

// Lookup returns the registration for key and whether it was found.
func (r *Registry) Lookup(key string) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[key]
	return reg, ok
}

// Len reports the number of currently registered keys. Exposed for
// tests; the registry otherwise never exposes iteration.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
