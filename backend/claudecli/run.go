package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"agentbridge/backend"
	"agentbridge/callback"
)

const maxLineSize = 16 * 1024 * 1024

// CLI-side control request subtypes.
const (
	subtypeCanUseTool   = "can_use_tool"
	subtypeHookCallback = "hook_callback"
	subtypeMcpMessage   = "mcp_message"
	subtypeInterrupt    = "interrupt"
)

type run struct {
	ctx  context.Context
	cmd  *exec.Cmd
	opts backend.StartOptions
	log  *zap.Logger

	stdin  io.Writer
	ptmx   *os.File
	wmu    sync.Mutex
	nextID atomic.Int64

	events   chan json.RawMessage
	done     chan struct{}
	killOnce sync.Once
}

func newRun(ctx context.Context, cmd *exec.Cmd, opts backend.StartOptions, log *zap.Logger) *run {
	return &run{
		ctx:    ctx,
		cmd:    cmd,
		opts:   opts,
		log:    log,
		events: make(chan json.RawMessage, 64),
		done:   make(chan struct{}),
	}
}

func (r *run) start(usePTY bool) error {
	var stdout io.Reader
	if usePTY {
		ptmx, err := pty.Start(r.cmd)
		if err != nil {
			return err
		}
		r.ptmx = ptmx
		r.stdin = ptmx
		stdout = ptmx
	} else {
		stdin, err := r.cmd.StdinPipe()
		if err != nil {
			return err
		}
		out, err := r.cmd.StdoutPipe()
		if err != nil {
			return err
		}
		stderr, err := r.cmd.StderrPipe()
		if err != nil {
			return err
		}
		go r.drainStderr(stderr)
		if err := r.cmd.Start(); err != nil {
			return err
		}
		r.stdin = stdin
		stdout = out
	}

	if r.opts.Prompt != "" {
		if err := r.writeUserMessage(r.opts.Prompt); err != nil {
			r.Kill()
			return err
		}
	}

	go r.readLoop(stdout)
	return nil
}

// Events implements backend.Run.
func (r *run) Events() <-chan json.RawMessage { return r.events }

// Done implements backend.Run.
func (r *run) Done() <-chan struct{} { return r.done }

// Send implements backend.Run.
func (r *run) Send(ctx context.Context, msg json.RawMessage) error {
	select {
	case <-r.done:
		return fmt.Errorf("run has ended")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return r.writeLine(msg)
}

// Interrupt implements backend.Run: asks the CLI to stop its current turn.
func (r *run) Interrupt() {
	id := fmt.Sprintf("br-%d", r.nextID.Add(1))
	req := map[string]any{
		"type":       "control_request",
		"request_id": id,
		"request":    map[string]any{"subtype": subtypeInterrupt},
	}
	if err := r.writeJSON(req); err != nil {
		r.log.Debug("send interrupt", zap.Error(err))
	}
}

// Kill implements backend.Run.
func (r *run) Kill() error {
	var err error
	r.killOnce.Do(func() {
		if r.ptmx != nil {
			r.ptmx.Close()
		}
		if r.cmd.Process != nil {
			err = r.cmd.Process.Kill()
		}
	})
	return err
}

func (r *run) readLoop(stdout io.Reader) {
	defer func() {
		close(r.events)
		r.cmd.Wait()
		close(r.done)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		buf := make(json.RawMessage, len(line))
		copy(buf, line)

		var head struct {
			Type      string          `json:"type"`
			RequestID string          `json:"request_id"`
			Request   json.RawMessage `json:"request"`
		}
		if err := json.Unmarshal(buf, &head); err != nil {
			r.log.Debug("unparsable line from agent", zap.Error(err))
			continue
		}

		switch head.Type {
		case "control_request":
			// Dispatched off the read loop: a pending permission must not
			// stall the agent's other output.
			go r.handleControlRequest(head.RequestID, head.Request)
		case "control_response":
			// Answer to one of our own requests (interrupt); nothing to do.
		default:
			r.events <- buf
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.Debug("agent stream closed", zap.Error(err))
	}
}

func (r *run) handleControlRequest(requestID string, rawBody json.RawMessage) {
	var body struct {
		Subtype               string           `json:"subtype"`
		ToolName              string           `json:"tool_name"`
		Input                 map[string]any   `json:"input"`
		PermissionSuggestions []map[string]any `json:"permission_suggestions"`
		BlockedPath           string           `json:"blocked_path"`
		DecisionReason        json.RawMessage  `json:"decision_reason"`
		ToolUseID             string           `json:"tool_use_id"`
		AgentID               string           `json:"agent_id"`
		Event                 string           `json:"event"`
		CallbackID            string           `json:"callback_id"`
		ServerName            string           `json:"server_name"`
		Message               json.RawMessage  `json:"message"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		r.respondErr(requestID, "malformed control request: "+err.Error())
		return
	}

	switch body.Subtype {
	case subtypeCanUseTool:
		if r.opts.CanUseTool == nil {
			r.respondErr(requestID, "no permission handler")
			return
		}
		res, err := r.opts.CanUseTool(r.ctx, body.ToolName, body.Input, permissionContext(body.PermissionSuggestions, body.BlockedPath, body.DecisionReason, body.ToolUseID, body.AgentID))
		if err != nil {
			r.respondErr(requestID, err.Error())
			return
		}
		r.respondOK(requestID, res)

	case subtypeHookCallback:
		if r.opts.HookCallback == nil {
			r.respondErr(requestID, "no hook handler")
			return
		}
		event := body.Event
		if event == "" {
			event = body.CallbackID
		}
		res, err := r.opts.HookCallback(r.ctx, event, body.Input, body.ToolUseID)
		if err != nil {
			r.respondErr(requestID, err.Error())
			return
		}
		r.respondOK(requestID, res)

	case subtypeMcpMessage:
		if r.opts.McpMessage == nil {
			r.respondErr(requestID, "no mcp handler")
			return
		}
		resp := r.opts.McpMessage(r.ctx, body.Message)
		r.respondOK(requestID, map[string]any{"mcp_response": resp})

	default:
		r.respondErr(requestID, "unsupported control request subtype: "+body.Subtype)
	}
}

func (r *run) respondOK(requestID string, payload any) {
	r.respond(requestID, payload, "")
}

func (r *run) respondErr(requestID, errMsg string) {
	r.respond(requestID, nil, errMsg)
}

func (r *run) respond(requestID string, payload any, errMsg string) {
	body := map[string]any{"request_id": requestID}
	if errMsg != "" {
		body["subtype"] = "error"
		body["error"] = errMsg
	} else {
		body["subtype"] = "success"
		if payload != nil {
			body["response"] = payload
		}
	}
	msg := map[string]any{"type": "control_response", "response": body}
	if err := r.writeJSON(msg); err != nil {
		r.log.Warn("send control response",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (r *run) writeUserMessage(text string) error {
	return r.writeJSON(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
		"session_id": r.opts.SessionID,
	})
}

func (r *run) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.writeLine(data)
}

func (r *run) writeLine(data []byte) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	_, err := r.stdin.Write(append(data, '\n'))
	return err
}

func permissionContext(suggestions []map[string]any, blockedPath string, decisionReason json.RawMessage, toolUseID, agentID string) callback.PermissionContext {
	return callback.PermissionContext{
		Suggestions:    suggestions,
		BlockedPath:    blockedPath,
		DecisionReason: decisionReason,
		ToolUseID:      toolUseID,
		AgentID:        agentID,
	}
}

func (r *run) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		r.log.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}
