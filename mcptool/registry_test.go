package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() (mcp.Tool, Handler) {
	tool := mcp.NewTool("echo",
		mcp.WithDescription("Echoes the given text back"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.Params.Arguments["text"].(string)
		return mcp.NewToolResultText("Echo: " + text), nil
	}
	return tool, handler
}

func dispatch(t *testing.T, r *Registry, msg string) map[string]any {
	t.Helper()
	raw := r.HandleMessage(context.Background(), json.RawMessage(msg))
	require.NotNil(t, raw)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func contentText(t *testing.T, result map[string]any) string {
	t.Helper()
	content, ok := result["content"].([]any)
	require.True(t, ok, "result has no content array: %v", result)
	require.NotEmpty(t, content)
	first, ok := content[0].(map[string]any)
	require.True(t, ok)
	text, _ := first["text"].(string)
	return text
}

func TestRegistry_InitializeEchoesClientVersion(t *testing.T) {
	r := NewRegistry()

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"ui"}}}`)

	require.Equal(t, "2.0", resp["jsonrpc"])
	assert.EqualValues(t, 1, resp["id"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, "2025-03-26", result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "agentbridge", info["name"])
	assert.Equal(t, "1.0.0", info["version"])
	caps := result["capabilities"].(map[string]any)
	tools := caps["tools"].(map[string]any)
	assert.Equal(t, false, tools["listChanged"])
}

func TestRegistry_InitializeDefaultsVersion(t *testing.T) {
	r := NewRegistry()

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":"init-1","method":"initialize"}`)

	assert.Equal(t, "init-1", resp["id"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestRegistry_ListEmptyIsArray(t *testing.T) {
	r := NewRegistry()

	raw := r.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	require.NotNil(t, raw)
	assert.Contains(t, string(raw), `"tools":[]`)
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	tool, handler := echoTool()
	r.Register(tool, handler)
	r.Register(mcp.NewTool("shout", mcp.WithDescription("Upper-cases text")), handler)

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`)

	result := resp["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 2)
	first := tools[0].(map[string]any)
	second := tools[1].(map[string]any)
	assert.Equal(t, "echo", first["name"])
	assert.Equal(t, "Echoes the given text back", first["description"])
	assert.Equal(t, "shout", second["name"])

	schema := first["inputSchema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "text")
}

func TestRegistry_CallTool(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)

	result := resp["result"].(map[string]any)
	assert.Equal(t, "Echo: hi", contentText(t, result))
	assert.Nil(t, result["isError"])
}

func TestRegistry_CallUnknownToolIsContentError(t *testing.T) {
	r := NewRegistry()

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)

	require.Nil(t, resp["error"], "unknown tool must not be a protocol error")
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, "Unknown tool: nope", contentText(t, result))
}

func TestRegistry_HandlerErrorIsContentError(t *testing.T) {
	r := NewRegistry()
	r.Register(mcp.NewTool("bad"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("boom")
	})

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"bad"}}`)

	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, "Tool error: boom", contentText(t, result))
}

func TestRegistry_HandlerPanicIsContentError(t *testing.T) {
	r := NewRegistry()
	r.Register(mcp.NewTool("explode"), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("kaboom")
	})

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"explode"}}`)

	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	assert.Contains(t, contentText(t, result), "kaboom")
}

func TestRegistry_CallWithoutArguments(t *testing.T) {
	r := NewRegistry()
	var gotArgs map[string]any
	r.Register(mcp.NewTool("probe"), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gotArgs = req.Params.Arguments
		return mcp.NewToolResultText("ok"), nil
	})

	dispatch(t, r, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"probe"}}`)

	require.NotNil(t, gotArgs, "missing arguments become an empty map")
	assert.Empty(t, gotArgs)
}

func TestRegistry_UnknownMethod(t *testing.T) {
	r := NewRegistry()

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`)

	require.Nil(t, resp["result"])
	rpcErr := resp["error"].(map[string]any)
	assert.EqualValues(t, -32601, rpcErr["code"])
	assert.Equal(t, "Unknown method: resources/list", rpcErr["message"])
}

func TestRegistry_NotificationHasNoResponse(t *testing.T) {
	r := NewRegistry()
	raw := r.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, raw)
}

func TestRegistry_Ping(t *testing.T) {
	r := NewRegistry()

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":"p1","method":"ping"}`)

	assert.Equal(t, "p1", resp["id"])
	assert.Equal(t, map[string]any{}, resp["result"])
}

func TestRegistry_IDEchoedByType(t *testing.T) {
	r := NewRegistry()

	for _, id := range []string{`42`, `"abc"`} {
		msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":"ping"}`, id)
		raw := r.HandleMessage(context.Background(), json.RawMessage(msg))
		require.NotNil(t, raw)
		var resp struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &resp))
		assert.JSONEq(t, id, string(resp.ID), "id %s must echo byte-identically", id)
	}
}

func TestRegistry_ReRegisterKeepsSlot(t *testing.T) {
	r := NewRegistry()
	tool, handler := echoTool()
	r.Register(tool, handler)
	r.Register(mcp.NewTool("shout"), handler)

	// replace echo with a new definition; it must stay first
	r.Register(mcp.NewTool("echo", mcp.WithDescription("v2")), func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("replaced"), nil
	})

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":10,"method":"tools/list"}`)
	tools := resp["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 2)
	first := tools[0].(map[string]any)
	assert.Equal(t, "echo", first["name"])
	assert.Equal(t, "v2", first["description"])

	call := dispatch(t, r, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	assert.Equal(t, "replaced", contentText(t, call["result"].(map[string]any)))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	r.Unregister("echo")
	r.Unregister("echo") // unknown name is a no-op

	resp := dispatch(t, r, `{"jsonrpc":"2.0","id":12,"method":"tools/call","params":{"name":"echo"}}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
}
