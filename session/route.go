package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agentbridge/protocol"
)

// Control request subtypes understood by the registry.
const (
	controlInitialize = "initialize"
	controlInterrupt  = "interrupt"
)

// HandleMessage routes one decoded inbound message. Installed as the
// transport handler; runs on the transport's read loop, so per-session
// delivery order follows wire order.
func (r *Registry) HandleMessage(msg protocol.Message) {
	ctx := context.Background()

	switch m := msg.(type) {
	case *protocol.McpMessage:
		// Tool dispatch is synchronous: tools are stateless per call and
		// independent of sessions.
		if resp := r.tools.HandleMessage(ctx, m.Raw); resp != nil {
			if err := r.sender.Send(resp); err != nil {
				r.log.Warn("send mcp response", zap.Error(err))
			}
		}

	case *protocol.CallbackResponse:
		r.resolveCallback(protocol.IDKey(m.ID), m.Response)

	case *protocol.SessionCreate:
		if _, err := r.Create(ctx, m.Payload.Prompt, m.Payload.Cwd, CreateOptions{
			Backend:   m.Payload.Backend,
			RequestID: m.RequestID,
			Options:   m.Payload.Options,
		}); err != nil {
			r.log.Error("create session", zap.Error(err))
			r.sendError(protocol.CodeInvalidMessage, "create session: "+err.Error())
		}

	case *protocol.SessionSend:
		if err := r.Send(ctx, m.SessionID, m.Message); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				r.sendError(protocol.CodeSessionNotFound, err.Error())
				return
			}
			r.log.Warn("forward to session",
				zap.String("session_id", m.SessionID), zap.Error(err))
		}

	case *protocol.ControlRequest:
		r.handleControl(m)

	case *protocol.ErrorMessage:
		r.log.Warn("peer reported error",
			zap.String("code", m.Code), zap.String("message", m.Message))

	default:
		// callback.request, session.created and control.response only ever
		// travel outbound; an inbound one is a correlation error.
		r.log.Warn("dropping unroutable message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// resolveCallback finds the session whose bridge owns the correlation id.
// Responses for unknown ids (already resolved, timed out, or torn down) are
// logged and dropped.
func (r *Registry) resolveCallback(id string, response json.RawMessage) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if h.bridge.Resolve(id, response) {
			return
		}
	}
	r.log.Warn("callback response for unknown id, dropping",
		zap.String("callback_id", id))
}

func (r *Registry) handleControl(m *protocol.ControlRequest) {
	switch m.Request.Subtype {
	case controlInitialize:
		r.respondControl(m.RequestID, r.initializePayload(), "")
	case controlInterrupt:
		r.Interrupt(m.Request.SessionID)
		r.respondControl(m.RequestID, map[string]any{}, "")
	default:
		r.respondControl(m.RequestID, nil, "Unknown control method: "+m.Request.Subtype)
	}
}

// initializePayload reports the bridge identity and the capability flag set
// of every registered backend, keyed by kind.
func (r *Registry) initializePayload() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	caps := make(map[string]any, len(r.backends))
	for kind, b := range r.backends {
		caps[kind] = b.Capabilities()
	}
	return map[string]any{
		"capabilities": caps,
	}
}

func (r *Registry) respondControl(requestID json.RawMessage, payload map[string]any, errMsg string) {
	body := protocol.ControlResponseBody{RequestID: requestID}
	if errMsg != "" {
		body.Subtype = "error"
		body.Error = errMsg
	} else {
		body.Subtype = "success"
		body.Response = payload
	}
	if err := r.sender.Send(protocol.ControlResponse{
		Type:     protocol.TypeControlResponse,
		Response: body,
	}); err != nil {
		r.log.Warn("send control response", zap.Error(err))
	}
}

func (r *Registry) sendError(code, message string) {
	if err := r.sender.Send(protocol.NewErrorMessage(code, message)); err != nil {
		r.log.Warn("send error envelope", zap.Error(err))
	}
}
