// Package registry is the concurrent-safe directory of active process
// handles, keyed by logical id. It is the single shared mutable
// structure: supervisors and executors register what they launch, the
// shutdown path enumerates and force-removes what is left.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipforge/toolhost/internal/metrics"
	"github.com/clipforge/toolhost/internal/process"
)

// Entry is the registration token for one tracked process. It carries
// a dedicated cancellation source so external callers can cancel the
// owning operation by id.
type Entry struct {
	ID     string
	JobID  string
	Handle *process.Handle

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is done once Cancel has been called or the entry removed.
func (e *Entry) Context() context.Context { return e.ctx }

// Cancel fires the entry's cancellation source. Safe to call multiple
// times.
func (e *Entry) Cancel() { e.cancel() }

// Registry maps id -> entry with linearized mutations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts a handle under its spec id. A live duplicate id is
// rejected rather than silently replaced.
func (r *Registry) Register(h *process.Handle, jobID string) (*Entry, error) {
	id := h.Spec().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return nil, fmt.Errorf("registry: id %q already tracked", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Entry{ID: id, JobID: jobID, Handle: h, ctx: ctx, cancel: cancel}
	r.entries[id] = e
	metrics.SetRunningProcesses(len(r.entries))
	return e, nil
}

// Unregister removes an entry and releases its cancellation source.
// Idempotent: unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()
	if ok {
		e.cancel()
		metrics.SetRunningProcesses(n)
	}
}

// Get returns the entry for id, if tracked.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns a consistent point-in-time snapshot of all entries.
// Order is not specified.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
