package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_CallbackResponse(t *testing.T) {
	r := require.New(t)
	a := assert.New(t)

	msg, err := Decode([]byte(`{"type":"callback.response","id":"cb-1","response":{"behavior":"allow"}}`))
	r.NoError(err)

	resp, ok := msg.(*CallbackResponse)
	r.True(ok)
	a.Equal("cb-1", IDKey(resp.ID))
	a.JSONEq(`{"behavior":"allow"}`, string(resp.Response))
}

func TestDecode_IntegerCorrelationID(t *testing.T) {
	r := require.New(t)

	msg, err := Decode([]byte(`{"type":"callback.response","id":42,"response":{}}`))
	r.NoError(err)

	resp := msg.(*CallbackResponse)
	// Non-string ids key by their raw text.
	require.Equal(t, "42", IDKey(resp.ID))
}

func TestDecode_McpMessage(t *testing.T) {
	r := require.New(t)

	line := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	msg, err := Decode([]byte(line))
	r.NoError(err)

	mcp, ok := msg.(*McpMessage)
	r.True(ok)
	assert.JSONEq(t, line, string(mcp.Raw))
}

func TestDecode_SessionMessages(t *testing.T) {
	r := require.New(t)
	a := assert.New(t)

	msg, err := Decode([]byte(`{"type":"session.create","request_id":7,"payload":{"prompt":"hi","cwd":"/tmp","backend":"claude"}}`))
	r.NoError(err)
	create := msg.(*SessionCreate)
	a.Equal("hi", create.Payload.Prompt)
	a.Equal("/tmp", create.Payload.Cwd)
	a.Equal("7", IDKey(create.RequestID))

	msg, err = Decode([]byte(`{"type":"session.send","session_id":"s-1","message":{"type":"user"}}`))
	r.NoError(err)
	send := msg.(*SessionSend)
	a.Equal("s-1", send.SessionID)
}

func TestDecode_ControlRequest(t *testing.T) {
	r := require.New(t)

	msg, err := Decode([]byte(`{"type":"control.request","request_id":"r-9","request":{"subtype":"interrupt","session_id":"s-2"}}`))
	r.NoError(err)

	ctrl := msg.(*ControlRequest)
	assert.Equal(t, "interrupt", ctrl.Request.Subtype)
	assert.Equal(t, "s-2", ctrl.Request.SessionID)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"mystery"}`))
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDecode_MalformedLine(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)
}

func TestCallbackRequest_RoundTrip(t *testing.T) {
	r := require.New(t)
	a := assert.New(t)

	out := CallbackRequest{
		Type:      TypeCallbackRequest,
		ID:        "cb-7",
		SessionID: "s-3",
		Payload: CallbackPayload{
			CallbackType: CallbackCanUseTool,
			ToolName:     "Bash",
			ToolInput:    map[string]any{"command": "ls"},
			ToolUseID:    "tu-1",
			AgentID:      "agent-1",
		},
	}
	data, err := json.Marshal(out)
	r.NoError(err)

	msg, err := Decode(data)
	r.NoError(err)
	in := msg.(*CallbackRequest)
	a.Equal("cb-7", in.ID)
	a.Equal("s-3", in.SessionID)
	a.Equal("Bash", in.Payload.ToolName)
	a.Equal("tu-1", in.Payload.ToolUseID)
	a.Equal("agent-1", in.Payload.AgentID)
}
