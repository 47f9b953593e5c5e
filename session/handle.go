package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"agentbridge/backend"
	"agentbridge/callback"
)

const (
	eventBuffer   = 64
	requestBuffer = 16
)

// Handle is the per-session surface returned by Create: the backend's event
// stream plus observation streams for the permission and hook requests the
// session's bridge emits.
type Handle struct {
	ID   string
	Kind string

	reg    *Registry
	bridge *callback.Bridge
	run    backend.Run
	cancel context.CancelFunc

	events      chan json.RawMessage
	permissions chan callback.Request
	hooks       chan callback.Request
	done        chan struct{}

	active    atomic.Bool
	closeOnce sync.Once
}

// Events yields backend-produced messages in order. Closed when the run
// ends.
func (h *Handle) Events() <-chan json.RawMessage { return h.events }

// Permissions yields a copy of each emitted permission request.
func (h *Handle) Permissions() <-chan callback.Request { return h.permissions }

// Hooks yields a copy of each emitted hook request.
func (h *Handle) Hooks() <-chan callback.Request { return h.hooks }

// Done is closed once the session has been destroyed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Active reports whether the session is still registered.
func (h *Handle) Active() bool { return h.active.Load() }

// Close terminates the session. Idempotent.
func (h *Handle) Close() { h.reg.Kill(h.ID) }

// observe tees emitted callback requests into the observation streams.
// Observation must never stall resolution, so a full buffer drops.
func (h *Handle) observe(req callback.Request) {
	var ch chan callback.Request
	switch req.Kind {
	case callback.KindPermission:
		ch = h.permissions
	case callback.KindHook:
		ch = h.hooks
	default:
		return
	}
	select {
	case ch <- req:
	default:
	}
}
