// Package session multiplexes many independent agent sessions over one
// transport. The registry owns the session map, one callback bridge per
// session, and the inbound routing switch; every termination path funnels
// through a single teardown that cancels the session's pending callbacks and
// removes it. Callback state is never shared across sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentbridge/backend"
	"agentbridge/callback"
	"agentbridge/mcptool"
	"agentbridge/protocol"
)

// ErrSessionNotFound is returned for operations addressing an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoBackend is returned by Create when no backend matches the request.
var ErrNoBackend = errors.New("no backend registered")

// Registry creates, destroys, and routes to sessions.
type Registry struct {
	sender  callback.Sender
	tools   *mcptool.Registry
	log     *zap.Logger
	clk     clock.Clock
	timeout time.Duration

	mu          sync.Mutex
	backends    map[string]backend.Backend
	defaultKind string
	sessions    map[string]*Handle
	closed      bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithClock substitutes the timer source used by callback bridges.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) { r.clk = clk }
}

// WithCallbackTimeout sets the default pending-callback timeout for new
// sessions.
func WithCallbackTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTools sets the internal tool dispatcher fed by inbound MCP messages.
func WithTools(tools *mcptool.Registry) Option {
	return func(r *Registry) { r.tools = tools }
}

// NewRegistry creates a registry emitting on the given sender.
func NewRegistry(sender callback.Sender, opts ...Option) *Registry {
	r := &Registry{
		sender:   sender,
		log:      zap.NewNop(),
		clk:      clock.New(),
		timeout:  callback.DefaultTimeout,
		backends: make(map[string]backend.Backend),
		sessions: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tools == nil {
		r.tools = mcptool.NewRegistry(mcptool.WithLogger(r.log))
	}
	return r
}

// RegisterBackend makes a backend available by its kind. The first
// registered backend serves requests that name no kind.
func (r *Registry) RegisterBackend(b backend.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultKind == "" {
		r.defaultKind = b.Kind()
	}
	r.backends[b.Kind()] = b
}

// Tools exposes the internal tool dispatcher for registration.
func (r *Registry) Tools() *mcptool.Registry {
	return r.tools
}

// CreateOptions tunes session creation.
type CreateOptions struct {
	// Backend selects a registered backend kind; empty means the default.
	Backend string
	// RequestID, when set, is echoed in the session.created announcement.
	RequestID json.RawMessage
	// CallbackTimeout overrides the registry default for this session.
	CallbackTimeout time.Duration
	// Options is passed through to the backend untouched.
	Options map[string]any
}

// Create allocates a fresh session: unique id, its own callback bridge, a
// backend run wired to that bridge, and a session.created announcement
// tagged with the new id.
func (r *Registry) Create(ctx context.Context, prompt, cwd string, opts CreateOptions) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("registry closed")
	}
	kind := opts.Backend
	if kind == "" {
		kind = r.defaultKind
	}
	be, ok := r.backends[kind]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, kind)
	}

	id := uuid.NewString()
	h := &Handle{
		ID:          id,
		Kind:        kind,
		reg:         r,
		events:      make(chan json.RawMessage, eventBuffer),
		permissions: make(chan callback.Request, requestBuffer),
		hooks:       make(chan callback.Request, requestBuffer),
		done:        make(chan struct{}),
	}

	timeout := r.timeout
	if opts.CallbackTimeout > 0 {
		timeout = opts.CallbackTimeout
	}
	h.bridge = callback.New(id, r.sender,
		callback.WithLogger(r.log.Named("callback")),
		callback.WithClock(r.clk),
		callback.WithTimeout(timeout),
		callback.WithObserver(h.observe),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel

	run, err := be.Start(runCtx, backend.StartOptions{
		SessionID:    id,
		Prompt:       prompt,
		Cwd:          cwd,
		Options:      opts.Options,
		CanUseTool:   h.bridge.RequestPermission,
		HookCallback: h.bridge.RequestHook,
		McpMessage:   r.tools.HandleMessage,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start %s backend: %w", kind, err)
	}
	h.run = run
	h.active.Store(true)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		run.Kill()
		return nil, errors.New("registry closed")
	}
	r.sessions[id] = h
	r.mu.Unlock()

	if err := r.sender.Send(protocol.SessionCreated{
		Type:      protocol.TypeSessionCreated,
		RequestID: opts.RequestID,
		SessionID: id,
	}); err != nil {
		r.log.Warn("announce session", zap.String("session_id", id), zap.Error(err))
	}
	r.log.Info("session created",
		zap.String("session_id", id), zap.String("backend", kind))

	go r.pump(h)
	go r.watch(h)
	return h, nil
}

// Send forwards one message to a session's run, preserving submission order.
func (r *Registry) Send(ctx context.Context, sessionID string, msg json.RawMessage) error {
	h, ok := r.lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return h.run.Send(ctx, msg)
}

// Interrupt signals cancellation of a session's current turn. Unknown or
// terminated sessions are a no-op.
func (r *Registry) Interrupt(sessionID string) {
	if h, ok := r.lookup(sessionID); ok {
		h.run.Interrupt()
	}
}

// Kill terminates a session. Unknown or already-terminated sessions are a
// no-op.
func (r *Registry) Kill(sessionID string) {
	if h, ok := r.lookup(sessionID); ok {
		h.run.Kill()
		r.teardown(h)
	}
}

// Close tears down every session. Called on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.run.Kill()
		r.teardown(h)
	}
}

// Sessions reports the ids of live sessions.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) lookup(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	return h, ok
}

// pump forwards backend events onto the wire in order, teeing each one into
// the handle's event stream for in-process consumers. The wire is the
// authoritative consumer; a full handle buffer drops rather than stalls it.
func (r *Registry) pump(h *Handle) {
	defer close(h.events)
	for ev := range h.run.Events() {
		if err := r.sender.Send(protocol.SessionSend{
			Type:      protocol.TypeSessionSend,
			SessionID: h.ID,
			Message:   ev,
		}); err != nil {
			r.log.Warn("forward session event",
				zap.String("session_id", h.ID), zap.Error(err))
		}
		select {
		case h.events <- ev:
		default:
			r.log.Debug("handle event buffer full, dropping",
				zap.String("session_id", h.ID))
		}
	}
}

// watch tears the session down once its run completes on its own.
func (r *Registry) watch(h *Handle) {
	<-h.run.Done()
	r.teardown(h)
}

// teardown is the single exit path for a session: cancel pending callbacks,
// release resources, remove from the registry. Idempotent.
func (r *Registry) teardown(h *Handle) {
	h.closeOnce.Do(func() {
		h.active.Store(false)
		h.cancel()
		h.bridge.CancelAll()

		r.mu.Lock()
		delete(r.sessions, h.ID)
		r.mu.Unlock()

		close(h.done)
		r.log.Info("session destroyed", zap.String("session_id", h.ID))
	})
}
