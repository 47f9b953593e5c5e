// Package protocol defines the message types exchanged between the bridge
// and its host over the stdio wire. Messages are newline-delimited JSON
// objects discriminated by a `type` field; lines carrying a `jsonrpc` field
// instead are embedded MCP traffic. Decode turns a raw line into exactly one
// member of a closed union so callers switch on concrete types rather than
// strings.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	TypeCallbackRequest  MessageType = "callback.request"
	TypeCallbackResponse MessageType = "callback.response"
	TypeSessionCreate    MessageType = "session.create"
	TypeSessionCreated   MessageType = "session.created"
	TypeSessionSend      MessageType = "session.send"
	TypeControlRequest   MessageType = "control.request"
	TypeControlResponse  MessageType = "control.response"
	TypeError            MessageType = "error"
)

// Callback payload discriminators.
const (
	CallbackCanUseTool = "can_use_tool"
	CallbackHook       = "hook"
)

// Error envelope codes.
const (
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
)

// ErrUnknownMessageType is returned by Decode for a well-formed JSON object
// whose type discriminator is not part of the union.
var ErrUnknownMessageType = errors.New("unknown message type")

// Message is implemented by every wire message variant. The interface is
// deliberately unexported-method-closed: new variants require a protocol
// change here, not an ad hoc string branch elsewhere.
type Message interface {
	messageType() MessageType
}

// CallbackRequest asks the peer for an interactive decision (tool permission
// or hook). Emitted by the bridge, answered by CallbackResponse.
type CallbackRequest struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Payload   CallbackPayload `json:"payload"`
}

// CallbackPayload carries the decision context. Every field the backend
// supplied is forwarded; downstream policy may depend on any of them.
type CallbackPayload struct {
	CallbackType   string           `json:"callback_type"`
	ToolName       string           `json:"tool_name,omitempty"`
	ToolInput      map[string]any   `json:"tool_input,omitempty"`
	Suggestions    []map[string]any `json:"suggestions,omitempty"`
	BlockedPath    string           `json:"blocked_path,omitempty"`
	DecisionReason json.RawMessage  `json:"decision_reason,omitempty"`
	ToolUseID      string           `json:"tool_use_id,omitempty"`
	AgentID        string           `json:"agent_id,omitempty"`
	Event          string           `json:"event,omitempty"`
	Input          map[string]any   `json:"input,omitempty"`
}

// CallbackResponse settles a previously emitted CallbackRequest. The id is
// kept raw so integer and string ids both round-trip untouched.
type CallbackResponse struct {
	Type     MessageType     `json:"type"`
	ID       json.RawMessage `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
}

// SessionCreate requests a new agent session.
type SessionCreate struct {
	Type      MessageType          `json:"type"`
	RequestID json.RawMessage      `json:"request_id,omitempty"`
	Payload   SessionCreatePayload `json:"payload"`
}

// SessionCreatePayload holds the initial run parameters.
type SessionCreatePayload struct {
	Prompt  string         `json:"prompt,omitempty"`
	Cwd     string         `json:"cwd,omitempty"`
	Backend string         `json:"backend,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// SessionCreated announces a freshly allocated session id, echoing the
// creating request's correlation id when one was supplied.
type SessionCreated struct {
	Type      MessageType     `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	SessionID string          `json:"session_id"`
}

// SessionSend carries a session-scoped message. Inbound it is input for the
// backend run; outbound it is backend output addressed to the peer.
type SessionSend struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

// ControlRequest is a correlated out-of-band request (initialize, interrupt).
type ControlRequest struct {
	Type      MessageType     `json:"type"`
	RequestID json.RawMessage `json:"request_id"`
	Request   ControlBody     `json:"request"`
}

// ControlBody names the control operation and its target.
type ControlBody struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id,omitempty"`
}

// ControlResponse answers a ControlRequest.
type ControlResponse struct {
	Type     MessageType         `json:"type"`
	Response ControlResponseBody `json:"response"`
}

// ControlResponseBody carries either a success payload or an error string.
type ControlResponseBody struct {
	Subtype   string          `json:"subtype"` // "success" or "error"
	RequestID json.RawMessage `json:"request_id"`
	Response  map[string]any  `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ErrorMessage reports a transport-level failure to the peer.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// McpMessage is an embedded MCP JSON-RPC line, passed through verbatim to
// the tool dispatcher.
type McpMessage struct {
	Raw json.RawMessage
}

func (CallbackRequest) messageType() MessageType  { return TypeCallbackRequest }
func (CallbackResponse) messageType() MessageType { return TypeCallbackResponse }
func (SessionCreate) messageType() MessageType    { return TypeSessionCreate }
func (SessionCreated) messageType() MessageType   { return TypeSessionCreated }
func (SessionSend) messageType() MessageType      { return TypeSessionSend }
func (ControlRequest) messageType() MessageType   { return TypeControlRequest }
func (ControlResponse) messageType() MessageType  { return TypeControlResponse }
func (ErrorMessage) messageType() MessageType     { return TypeError }
func (McpMessage) messageType() MessageType       { return "mcp" }

// NewErrorMessage builds an error envelope.
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// IDKey canonicalizes a correlation id for map lookup: JSON strings compare
// by their value, every other JSON value by its raw text.
func IDKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// Decode parses one wire line into its union member.
func Decode(line []byte) (Message, error) {
	var head struct {
		Type    MessageType `json:"type"`
		JSONRPC string      `json:"jsonrpc"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if head.JSONRPC != "" {
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return &McpMessage{Raw: raw}, nil
	}

	var msg Message
	switch head.Type {
	case TypeCallbackRequest:
		msg = &CallbackRequest{}
	case TypeCallbackResponse:
		msg = &CallbackResponse{}
	case TypeSessionCreate:
		msg = &SessionCreate{}
	case TypeSessionCreated:
		msg = &SessionCreated{}
	case TypeSessionSend:
		msg = &SessionSend{}
	case TypeControlRequest:
		msg = &ControlRequest{}
	case TypeControlResponse:
		msg = &ControlResponse{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return msg, nil
}
