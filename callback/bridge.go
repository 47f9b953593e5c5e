// Package callback converts interactive decisions owed by the peer into
// awaitable, timeout-bounded results. Each outstanding request is one entry
// in a pending map keyed by correlation id; an entry is settled exactly once,
// by Resolve, by its own timer, or by CancelAll. Permission requests fail
// closed on timeout, hook requests fail open: permissions gate access,
// hooks merely advise.
package callback

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

	"agentbridge/protocol"
)

// DefaultTimeout bounds a pending callback when no override is configured.
const DefaultTimeout = 5 * time.Minute

// Kind discriminates pending callbacks.
type Kind string

const (
	KindPermission Kind = "permission"
	KindHook       Kind = "hook"
)

// Permission behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// ErrTerminated rejects callers still awaiting a callback when their session
// is torn down.
var ErrTerminated = errors.New("session terminated")

// Sender emits wire messages. Satisfied by *transport.Transport.
type Sender interface {
	Send(msg any) error
}

// PermissionContext carries every policy-relevant field that accompanied the
// backend's ask. All of it is forwarded on the wire.
type PermissionContext struct {
	Suggestions    []map[string]any
	BlockedPath    string
	DecisionReason json.RawMessage
	ToolUseID      string
	AgentID        string
}

// PermissionResult is the settled outcome of a permission request.
type PermissionResult struct {
	Behavior           string           `json:"behavior"`
	UpdatedInput       map[string]any   `json:"updatedInput,omitempty"`
	UpdatedPermissions []map[string]any `json:"updatedPermissions,omitempty"`
	Message            string           `json:"message,omitempty"`
	Interrupt          bool             `json:"interrupt,omitempty"`
}

// Allowed reports whether the decision grants tool access.
func (r PermissionResult) Allowed() bool { return r.Behavior == BehaviorAllow }

// Request describes an emitted callback, for in-process observers such as a
// session handle's permission stream. Observation never affects resolution.
type Request struct {
	ID        string
	Kind      Kind
	ToolName  string
	ToolInput map[string]any
	Context   PermissionContext
	Event     string
	Input     map[string]any
	ToolUseID string
}

type outcome struct {
	perm PermissionResult
	hook HookResult
	err  error
}

type pending struct {
	kind  Kind
	done  chan outcome // buffered; settled at most once
	timer *clock.Timer

	// diagnostics context captured at request time
	toolName       string
	event          string
	hadInput       bool
	hadSuggestions bool
}

// Bridge correlates outbound callback requests with their eventual inbound
// responses for a single session.
type Bridge struct {
	sessionID string
	sender    Sender
	log       *zap.Logger
	clk       clock.Clock
	timeout   time.Duration
	newID     func() string
	observer  func(Request)

	mu      sync.Mutex
	pending map[string]*pending
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithClock substitutes the timer source, for tests.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) { b.clk = clk }
}

// WithTimeout overrides the per-callback timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithIDGenerator substitutes correlation id generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(b *Bridge) { b.newID = gen }
}

// WithObserver registers a callback invoked for every emitted request.
func WithObserver(fn func(Request)) Option {
	return func(b *Bridge) { b.observer = fn }
}

// New creates a bridge for one session.
func New(sessionID string, sender Sender, opts ...Option) *Bridge {
	b := &Bridge{
		sessionID: sessionID,
		sender:    sender,
		log:       zap.NewNop(),
		clk:       clock.New(),
		timeout:   DefaultTimeout,
		newID:     uuid.NewString,
		pending:   make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestPermission asks the peer whether toolName may run with toolInput.
// The caller suspends until the peer answers, the timeout fires (deny), or
// the session is torn down (ErrTerminated).
func (b *Bridge) RequestPermission(ctx context.Context, toolName string, toolInput map[string]any, pc PermissionContext) (PermissionResult, error) {
	id := b.newID()
	p := &pending{
		kind:           KindPermission,
		done:           make(chan outcome, 1),
		toolName:       toolName,
		hadInput:       len(toolInput) > 0,
		hadSuggestions: len(pc.Suggestions) > 0,
	}
	b.track(id, p)

	req := protocol.CallbackRequest{
		Type:      protocol.TypeCallbackRequest,
		ID:        id,
		SessionID: b.sessionID,
		Payload: protocol.CallbackPayload{
			CallbackType:   protocol.CallbackCanUseTool,
			ToolName:       toolName,
			ToolInput:      toolInput,
			Suggestions:    pc.Suggestions,
			BlockedPath:    pc.BlockedPath,
			DecisionReason: pc.DecisionReason,
			ToolUseID:      pc.ToolUseID,
			AgentID:        pc.AgentID,
		},
	}
	if err := b.sender.Send(req); err != nil {
		b.drop(id)
		return PermissionResult{}, fmt.Errorf("send permission request: %w", err)
	}
	b.notify(Request{
		ID: id, Kind: KindPermission,
		ToolName: toolName, ToolInput: toolInput, Context: pc,
	})

	select {
	case out := <-p.done:
		if out.err != nil {
			return PermissionResult{}, out.err
		}
		return out.perm, nil
	case <-ctx.Done():
		b.drop(id)
		return PermissionResult{}, ctx.Err()
	}
}

// RequestHook forwards a hook event to the peer and awaits its advisory
// output. A timeout yields an empty continue-shaped result.
func (b *Bridge) RequestHook(ctx context.Context, event string, input map[string]any, toolUseID string) (HookResult, error) {
	id := b.newID()
	p := &pending{
		kind:  KindHook,
		done:  make(chan outcome, 1),
		event: event,
	}
	b.track(id, p)

	req := protocol.CallbackRequest{
		Type:      protocol.TypeCallbackRequest,
		ID:        id,
		SessionID: b.sessionID,
		Payload: protocol.CallbackPayload{
			CallbackType: protocol.CallbackHook,
			Event:        event,
			Input:        input,
			ToolUseID:    toolUseID,
		},
	}
	if err := b.sender.Send(req); err != nil {
		b.drop(id)
		return HookResult{}, fmt.Errorf("send hook request: %w", err)
	}
	b.notify(Request{
		ID: id, Kind: KindHook,
		Event: event, Input: input, ToolUseID: toolUseID,
	})

	select {
	case out := <-p.done:
		if out.err != nil {
			return HookResult{}, out.err
		}
		return out.hook, nil
	case <-ctx.Done():
		b.drop(id)
		return HookResult{}, ctx.Err()
	}
}

// Resolve settles the pending callback with the given id. Unknown ids
// (already resolved, timed out, or cancelled) are logged and dropped; the
// original caller is never affected twice. Reports whether an entry was
// settled.
func (b *Bridge) Resolve(id string, response json.RawMessage) bool {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debug("callback response for unknown id", zap.String("callback_id", id))
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	var fields map[string]any
	if len(response) > 0 {
		if err := json.Unmarshal(response, &fields); err != nil {
			b.log.Warn("malformed callback response",
				zap.String("callback_id", id), zap.Error(err))
		}
	}

	switch p.kind {
	case KindPermission:
		p.done <- outcome{perm: b.permissionResult(p, fields)}
	case KindHook:
		p.done <- outcome{hook: mapHookResult(fields)}
	}
	return true
}

// CancelAll rejects every pending caller with ErrTerminated and clears the
// pending set. Safe to call repeatedly and when already empty.
func (b *Bridge) CancelAll() {
	b.mu.Lock()
	cancelled := b.pending
	b.pending = make(map[string]*pending)
	b.mu.Unlock()

	for _, p := range cancelled {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- outcome{err: ErrTerminated}
	}
	if len(cancelled) > 0 {
		b.log.Debug("cancelled pending callbacks",
			zap.String("session_id", b.sessionID), zap.Int("count", len(cancelled)))
	}
}

// PendingCount reports how many callbacks are outstanding.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) track(id string, p *pending) {
	b.mu.Lock()
	b.pending[id] = p
	p.timer = b.clk.AfterFunc(b.timeout, func() { b.expire(id) })
	b.mu.Unlock()
}

// drop removes an entry without settling it (send failure, caller gone).
func (b *Bridge) drop(id string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}

func (b *Bridge) expire(id string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	switch p.kind {
	case KindPermission:
		b.log.Warn("permission request timed out, denying",
			zap.String("callback_id", id), zap.String("tool", p.toolName),
			zap.Duration("timeout", b.timeout))
		p.done <- outcome{perm: PermissionResult{
			Behavior: BehaviorDeny,
			Message:  fmt.Sprintf("Permission request timed out after %s", b.timeout),
		}}
	case KindHook:
		b.log.Warn("hook request timed out, continuing",
			zap.String("callback_id", id), zap.String("event", p.event),
			zap.Duration("timeout", b.timeout))
		p.done <- outcome{hook: HookResult{}}
	}
}

func (b *Bridge) notify(req Request) {
	if b.observer != nil {
		b.observer(req)
	}
}

// permissionResult maps the peer's raw response onto a decision. Anything
// that is not an explicit allow fails closed. The integrity checks around an
// allow are diagnostics only; they never override the decision.
func (b *Bridge) permissionResult(p *pending, fields map[string]any) PermissionResult {
	behavior, _ := fields["behavior"].(string)
	if behavior != BehaviorAllow {
		if behavior != "" && behavior != BehaviorDeny {
			b.log.Warn("unrecognized permission behavior, failing closed",
				zap.String("tool", p.toolName), zap.String("behavior", behavior))
		}
		res := PermissionResult{Behavior: BehaviorDeny}
		if msg, ok := fields["message"].(string); ok && msg != "" {
			res.Message = msg
		} else {
			res.Message = "Permission denied"
			b.log.Warn("deny response carried no message, using default",
				zap.String("tool", p.toolName))
		}
		if interrupt, ok := fields["interrupt"].(bool); ok {
			res.Interrupt = interrupt
		}
		return res
	}

	res := PermissionResult{Behavior: BehaviorAllow}

	raw, present := fields["updated_input"]
	switch {
	case !present:
		b.log.Warn("allow response missing updated_input",
			zap.String("tool", p.toolName))
	default:
		obj, ok := raw.(map[string]any)
		if !ok {
			b.log.Warn("updated_input is not an object",
				zap.String("tool", p.toolName))
		} else {
			if len(obj) == 0 && p.hadInput {
				b.log.Warn("updated_input is empty but the original input was not",
					zap.String("tool", p.toolName))
			}
			res.UpdatedInput = obj
		}
	}

	if rawPerms, ok := fields["updated_permissions"].([]any); ok {
		for _, v := range rawPerms {
			if m, ok := v.(map[string]any); ok {
				res.UpdatedPermissions = append(res.UpdatedPermissions, m)
			}
		}
	} else if p.hadSuggestions {
		b.log.Warn("suggestions were offered but no updated_permissions came back",
			zap.String("tool", p.toolName))
	}
	return res
}
