// Package claudecli drives a coding-agent CLI that speaks newline-delimited
// stream-json over stdio. Agent output flows out as run events; the CLI's
// inbound control_request lines (tool permissions, hooks, MCP traffic) are
// dispatched to the callbacks wired in at start and answered with
// control_response lines.
package claudecli

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"agentbridge/backend"
)

// Backend spawns one CLI subprocess per run.
type Backend struct {
	command string
	args    []string
	usePTY  bool
	log     *zap.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithArgs appends extra CLI arguments.
func WithArgs(args ...string) Option {
	return func(b *Backend) { b.args = append(b.args, args...) }
}

// WithPTY runs the CLI under a pseudo-terminal. Some CLIs refuse stream
// mode without one.
func WithPTY(enabled bool) Option {
	return func(b *Backend) { b.usePTY = enabled }
}

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// New creates a backend for the given CLI command.
func New(command string, opts ...Option) *Backend {
	b := &Backend{
		command: command,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind implements backend.Backend.
func (b *Backend) Kind() string { return "claude" }

// Capabilities implements backend.Backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Hooks:                true,
		ModelListing:         true,
		ReasoningEffort:      true,
		PermissionModeChange: true,
		ModelChange:          true,
	}
}

// Start implements backend.Backend.
func (b *Backend) Start(ctx context.Context, opts backend.StartOptions) (backend.Run, error) {
	cmd := exec.CommandContext(ctx, b.command, b.args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	r := newRun(ctx, cmd, opts, b.log.With(zap.String("session_id", opts.SessionID)))
	if err := r.start(b.usePTY); err != nil {
		return nil, fmt.Errorf("start %s: %w", b.command, err)
	}
	return r, nil
}
