// Package stream implements the delivery side of the service: the
// outbox poller, the per-client stream engines, replay and heartbeats.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// NormalizeFilter canonicalizes a client-supplied filter value. The
// legacy "update" alias maps to "dataUpdate"; matching itself is
// case-insensitive so other values pass through unchanged.
func NormalizeFilter(filter string) string {
	if strings.EqualFold(filter, "update") {
		return models.EventTypeDataUpdate
	}
	return filter
}

// matchesFilter reports whether an event of the given type passes the
// client's filter. An empty filter accepts everything; "connected" is a
// transport-level type that always passes.
func matchesFilter(filter, eventType string) bool {
	if filter == "" {
		return true
	}
	if eventType == models.EventTypeConnected {
		return true
	}
	return strings.EqualFold(filter, eventType)
}

// Registry tracks the engines of the clients connected to this pod and
// routes polled events to them. One engine per client id; a reconnect
// replaces (and closes) the previous engine.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Register adds the engine under its client id. An existing engine for
// the same id is closed and replaced, so a reconnect wins over a stale
// connection that has not noticed its peer is gone.
func (r *Registry) Register(e *Engine) {
	r.mu.Lock()
	prev := r.engines[e.clientID]
	r.engines[e.clientID] = e
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
		slog.Info("Replaced existing stream for client", "client_id", e.clientID)
	}
}

// Unregister removes the engine if it is still the current one for its
// client id. A stale engine that has already been replaced is left
// alone so the newer registration survives.
func (r *Registry) Unregister(e *Engine) {
	r.mu.Lock()
	if r.engines[e.clientID] == e {
		delete(r.engines, e.clientID)
	}
	r.mu.Unlock()
	e.Close()
}

// Deliver routes one event. A targeted event goes only to the engine
// whose client id matches; a broadcast goes to every engine whose
// filter accepts the event type. Enqueueing never blocks the caller.
func (r *Registry) Deliver(ev models.Event) {
	r.mu.RLock()
	var targets []*Engine
	if ev.Targeted() {
		if e, ok := r.engines[ev.Target]; ok {
			targets = []*Engine{e}
		}
	} else {
		for _, e := range r.engines {
			if matchesFilter(e.filter, ev.Type) {
				targets = append(targets, e)
			}
		}
	}
	r.mu.RUnlock()

	for _, e := range targets {
		e.Enqueue(ev)
	}
}

// ActiveClients returns the number of clients connected to this pod.
func (r *Registry) ActiveClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// WaitDrained blocks until every engine has unregistered or ctx ends,
// reporting whether the registry emptied. Connection handlers write
// their final checkpoint as they unwind, so shutdown waits on this
// before closing the store.
func (r *Registry) WaitDrained(ctx context.Context) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.ActiveClients() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
