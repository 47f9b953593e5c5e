// Package backend declares the surface the session registry consumes from a
// concrete agent backend. Backends live outside the bridge; the bridge only
// starts runs, feeds them input, and wires their interactive callbacks.
package backend

import (
	"context"
	"encoding/json"

	"agentbridge/callback"
)

// Capabilities is an immutable flag set describing what a concrete backend
// supports. Callers consult it to avoid invoking unsupported operations; it
// is never mutated after construction.
type Capabilities struct {
	Hooks                bool `json:"hooks"`
	ModelListing         bool `json:"model_listing"`
	ReasoningEffort      bool `json:"reasoning_effort"`
	PermissionModeChange bool `json:"permission_mode_change"`
	ModelChange          bool `json:"model_change"`
}

// PermissionFunc decides whether a tool may run. Wired to the session's
// callback bridge by the registry.
type PermissionFunc func(ctx context.Context, toolName string, input map[string]any, pc callback.PermissionContext) (callback.PermissionResult, error)

// HookFunc forwards a lifecycle hook event and returns its advisory output.
type HookFunc func(ctx context.Context, event string, input map[string]any, toolUseID string) (callback.HookResult, error)

// McpFunc dispatches an embedded MCP JSON-RPC message; nil response for
// notifications.
type McpFunc func(ctx context.Context, msg json.RawMessage) json.RawMessage

// StartOptions configures one run.
type StartOptions struct {
	SessionID string
	Prompt    string
	Cwd       string
	Options   map[string]any

	CanUseTool   PermissionFunc
	HookCallback HookFunc
	McpMessage   McpFunc
}

// Run is one live agent execution.
type Run interface {
	// Events yields backend-produced messages in order. Closed when the
	// run ends.
	Events() <-chan json.RawMessage

	// Send forwards one message to the running agent.
	Send(ctx context.Context, msg json.RawMessage) error

	// Interrupt asks the agent to stop its current turn. Idempotent.
	Interrupt()

	// Kill terminates the run. Idempotent.
	Kill() error

	// Done is closed once the run has fully ended.
	Done() <-chan struct{}
}

// Backend creates runs.
type Backend interface {
	Kind() string
	Capabilities() Capabilities
	Start(ctx context.Context, opts StartOptions) (Run, error)
}
