package claudecli

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbridge/backend"
	"agentbridge/callback"
)

// startScript runs a shell script in place of the agent CLI. The script
// speaks the same newline-delimited JSON the real CLI does.
func startScript(t *testing.T, script string, opts backend.StartOptions) backend.Run {
	t.Helper()
	b := New("sh", WithArgs("-c", script))
	opts.SessionID = "test-session"
	run, err := b.Start(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { run.Kill() })
	return run
}

func nextEvent(t *testing.T, run backend.Run) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-run.Events():
		require.True(t, ok, "event stream closed early")
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event from agent")
		return nil
	}
}

func awaitExit(t *testing.T, run backend.Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end")
	}
}

func TestRun_InitialPromptAndEvents(t *testing.T) {
	// the script echoes the first line it receives wrapped in an event
	script := `read -r first
printf '{"type":"got","line":%s}\n' "$first"`

	run := startScript(t, script, backend.StartOptions{Prompt: "hello agent"})

	ev := nextEvent(t, run)
	assert.Equal(t, "got", ev["type"])
	line := ev["line"].(map[string]any)
	assert.Equal(t, "user", line["type"])
	msg := line["message"].(map[string]any)
	assert.Equal(t, "hello agent", msg["content"])
	assert.Equal(t, "test-session", line["session_id"])

	awaitExit(t, run)
}

func TestRun_PermissionControlRequest(t *testing.T) {
	script := `read -r first
printf '%s\n' '{"type":"control_request","request_id":"cli-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"tu-9"}}'
read -r resp
printf '{"type":"result","echo":%s}\n' "$resp"`

	var mu sync.Mutex
	var gotTool string
	var gotInput map[string]any
	var gotCtx callback.PermissionContext

	run := startScript(t, script, backend.StartOptions{
		Prompt: "go",
		CanUseTool: func(_ context.Context, tool string, input map[string]any, pc callback.PermissionContext) (callback.PermissionResult, error) {
			mu.Lock()
			gotTool, gotInput, gotCtx = tool, input, pc
			mu.Unlock()
			return callback.PermissionResult{
				Behavior:     callback.BehaviorAllow,
				UpdatedInput: map[string]any{"command": "ls -la"},
			}, nil
		},
	})

	ev := nextEvent(t, run)
	require.Equal(t, "result", ev["type"])

	mu.Lock()
	assert.Equal(t, "Bash", gotTool)
	assert.Equal(t, map[string]any{"command": "ls"}, gotInput)
	assert.Equal(t, "tu-9", gotCtx.ToolUseID)
	mu.Unlock()

	echo := ev["echo"].(map[string]any)
	assert.Equal(t, "control_response", echo["type"])
	body := echo["response"].(map[string]any)
	assert.Equal(t, "success", body["subtype"])
	assert.Equal(t, "cli-1", body["request_id"])
	decision := body["response"].(map[string]any)
	assert.Equal(t, "allow", decision["behavior"])
	assert.Equal(t, map[string]any{"command": "ls -la"}, decision["updatedInput"])

	awaitExit(t, run)
}

func TestRun_PermissionDenied(t *testing.T) {
	script := `read -r first
printf '%s\n' '{"type":"control_request","request_id":"cli-2","request":{"subtype":"can_use_tool","tool_name":"Write","input":{}}}'
read -r resp
printf '{"type":"result","echo":%s}\n' "$resp"`

	run := startScript(t, script, backend.StartOptions{
		Prompt: "go",
		CanUseTool: func(context.Context, string, map[string]any, callback.PermissionContext) (callback.PermissionResult, error) {
			return callback.PermissionResult{
				Behavior: callback.BehaviorDeny,
				Message:  "not allowed",
			}, nil
		},
	})

	ev := nextEvent(t, run)
	body := ev["echo"].(map[string]any)["response"].(map[string]any)
	decision := body["response"].(map[string]any)
	assert.Equal(t, "deny", decision["behavior"])
	assert.Equal(t, "not allowed", decision["message"])

	awaitExit(t, run)
}

func TestRun_HookControlRequest(t *testing.T) {
	script := `read -r first
printf '%s\n' '{"type":"control_request","request_id":"cli-3","request":{"subtype":"hook_callback","event":"PreToolUse","input":{"tool_name":"Bash"},"tool_use_id":"tu-1"}}'
read -r resp
printf '{"type":"result","echo":%s}\n' "$resp"`

	var mu sync.Mutex
	var gotEvent, gotToolUse string

	run := startScript(t, script, backend.StartOptions{
		Prompt: "go",
		HookCallback: func(_ context.Context, event string, _ map[string]any, toolUseID string) (callback.HookResult, error) {
			mu.Lock()
			gotEvent, gotToolUse = event, toolUseID
			mu.Unlock()
			return callback.HookResult{Decision: "approve"}, nil
		},
	})

	ev := nextEvent(t, run)
	mu.Lock()
	assert.Equal(t, "PreToolUse", gotEvent)
	assert.Equal(t, "tu-1", gotToolUse)
	mu.Unlock()

	body := ev["echo"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, "success", body["subtype"])
	result := body["response"].(map[string]any)
	assert.Equal(t, "approve", result["decision"])

	awaitExit(t, run)
}

func TestRun_McpControlRequest(t *testing.T) {
	script := `read -r first
printf '%s\n' '{"type":"control_request","request_id":"cli-4","request":{"subtype":"mcp_message","server_name":"bridge","message":{"jsonrpc":"2.0","id":1,"method":"ping"}}}'
read -r resp
printf '{"type":"result","echo":%s}\n' "$resp"`

	run := startScript(t, script, backend.StartOptions{
		Prompt: "go",
		McpMessage: func(_ context.Context, msg json.RawMessage) json.RawMessage {
			return json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":{}}`)
		},
	})

	ev := nextEvent(t, run)
	body := ev["echo"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, "success", body["subtype"])
	result := body["response"].(map[string]any)
	mcpResp := result["mcp_response"].(map[string]any)
	assert.Equal(t, "2.0", mcpResp["jsonrpc"])

	awaitExit(t, run)
}

func TestRun_UnsupportedControlSubtype(t *testing.T) {
	script := `read -r first
printf '%s\n' '{"type":"control_request","request_id":"cli-5","request":{"subtype":"set_wallpaper"}}'
read -r resp
printf '{"type":"result","echo":%s}\n' "$resp"`

	run := startScript(t, script, backend.StartOptions{Prompt: "go"})

	ev := nextEvent(t, run)
	body := ev["echo"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, "error", body["subtype"])
	assert.Contains(t, body["error"], "set_wallpaper")

	awaitExit(t, run)
}

func TestRun_SendAfterStart(t *testing.T) {
	script := `read -r line
printf '{"type":"got","line":%s}\n' "$line"`

	run := startScript(t, script, backend.StartOptions{})

	require.NoError(t, run.Send(context.Background(), json.RawMessage(`{"type":"user","message":"more"}`)))

	ev := nextEvent(t, run)
	line := ev["line"].(map[string]any)
	assert.Equal(t, "more", line["message"])

	awaitExit(t, run)

	err := run.Send(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err, "send after exit must fail")
}

func TestRun_InterruptWritesControlRequest(t *testing.T) {
	script := `read -r line
printf '{"type":"got","line":%s}\n' "$line"`

	run := startScript(t, script, backend.StartOptions{})
	run.Interrupt()

	ev := nextEvent(t, run)
	line := ev["line"].(map[string]any)
	assert.Equal(t, "control_request", line["type"])
	req := line["request"].(map[string]any)
	assert.Equal(t, "interrupt", req["subtype"])

	awaitExit(t, run)
}

func TestRun_NonJSONOutputSkipped(t *testing.T) {
	script := `printf 'warming up\n'
printf '%s\n' '{"type":"assistant","text":"hi"}'`

	run := startScript(t, script, backend.StartOptions{})

	ev := nextEvent(t, run)
	assert.Equal(t, "assistant", ev["type"])

	awaitExit(t, run)
}

func TestRun_KillEndsRun(t *testing.T) {
	run := startScript(t, `sleep 60`, backend.StartOptions{})

	require.NoError(t, run.Kill())
	awaitExit(t, run)
	require.NoError(t, run.Kill())
}
