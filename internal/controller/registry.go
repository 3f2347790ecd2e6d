// Package controller tracks cancellation handles for in-flight streaming
// model responses. The registry is the sole owner of the handles; callers
// borrow one only for the duration of a cancel call.
package controller

import "sync"

// Handle aborts one in-flight streaming response. A context.CancelFunc
// satisfies it via HandleFunc.
type Handle interface {
	Abort()
}

// HandleFunc adapts a plain function to the Handle interface.
type HandleFunc func()

// Abort calls the wrapped function.
func (f HandleFunc) Abort() { f() }

type key struct {
	sessionID string
	messageID string
}

// Registry is a process-wide registry of cancellation handles keyed by
// (sessionID, messageID). All operations are safe to call concurrently, and
// cancelling a stream that already completed naturally is a silent no-op.
//
// The zero value is not usable; construct with New. An instance is injected
// wherever it is needed so tests can run with their own registry.
type Registry struct {
	mu      sync.Mutex
	handles map[key]Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[key]Handle)}
}

// Register stores the handle for the given key. If a handle is already
// registered under the same key, the old one is aborted before being
// replaced, so its stream's eventual completion callback finds nothing to
// remove and no-ops.
func (r *Registry) Register(sessionID, messageID string, handle Handle) {
	k := key{sessionID: sessionID, messageID: messageID}

	r.mu.Lock()
	old := r.handles[k]
	r.handles[k] = handle
	r.mu.Unlock()

	if old != nil {
		old.Abort()
	}
}

// Remove deletes the handle for the given key without aborting it. Safe to
// call when no handle is registered.
func (r *Registry) Remove(sessionID, messageID string) {
	r.mu.Lock()
	delete(r.handles, key{sessionID: sessionID, messageID: messageID})
	r.mu.Unlock()
}

// Cancel aborts and removes the handle for the given key. No-op if absent,
// so racing against natural completion is safe from either side.
func (r *Registry) Cancel(sessionID, messageID string) {
	k := key{sessionID: sessionID, messageID: messageID}

	r.mu.Lock()
	handle, ok := r.handles[k]
	delete(r.handles, k)
	r.mu.Unlock()

	if ok {
		handle.Abort()
	}
}

// CancelAll aborts and removes every registered handle.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[key]Handle)
	r.mu.Unlock()

	for _, handle := range handles {
		handle.Abort()
	}
}

// CancelSession aborts and removes every handle belonging to the given
// session.
func (r *Registry) CancelSession(sessionID string) {
	r.mu.Lock()
	var handles []Handle
	for k, handle := range r.handles {
		if k.sessionID == sessionID {
			handles = append(handles, handle)
			delete(r.handles, k)
		}
	}
	r.mu.Unlock()

	for _, handle := range handles {
		handle.Abort()
	}
}

// HasPending reports whether any response is still in flight.
func (r *Registry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles) > 0
}

// Pending reports whether a response is in flight for the given key.
func (r *Registry) Pending(sessionID, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[key{sessionID: sessionID, messageID: messageID}]
	return ok
}
