// Package mcptool hosts the bridge's first-party tools behind a
// JSON-RPC-shaped dispatcher. Tool definitions and call results are mcp-go
// values; the dispatch itself is deliberately lenient toward the calling
// agent: an unknown tool or a failing handler comes back as readable
// isError content, not a protocol error, so the agent can see what went
// wrong and react. Only an unknown method is a protocol-level failure.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

const (
	serverName    = "agentbridge"
	serverVersion = "1.0.0"

	// defaultProtocolVersion is reported when the client does not request
	// a specific one.
	defaultProtocolVersion = "2024-11-05"

	methodNotFound = -32601
)

// Handler executes one tool call. Same shape the mcp-go server uses.
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

type entry struct {
	tool    mcp.Tool
	handler Handler
}

// Registry maps tool names to definitions and dispatches MCP messages.
// Stateless per call; independent of sessions.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:   zap.NewNop(),
		index: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Re-registration under an existing name replaces the
// definition in place, keeping its tools/list position.
func (r *Registry) Register(tool mcp.Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.index[tool.Name]; ok {
		r.log.Warn("replacing registered tool", zap.String("tool", tool.Name))
		existing.tool = tool
		existing.handler = h
		return
	}
	e := &entry{tool: tool, handler: h}
	r.entries = append(r.entries, e)
	r.index[tool.Name] = e
}

// Unregister removes a tool. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; !ok {
		return
	}
	delete(r.index, name)
	for i, e := range r.entries {
		if e.tool.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type serverCapabilities struct {
	Tools toolsCapability `json:"tools"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type toolDescriptor struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	InputSchema mcp.ToolInputSchema `json:"inputSchema"`
}

type listToolsResult struct {
	Tools []toolDescriptor `json:"tools"`
}

// HandleMessage dispatches one MCP JSON-RPC message and returns the encoded
// response, or nil for notifications. The request id, whatever its JSON
// type, is echoed back unchanged.
func (r *Registry) HandleMessage(ctx context.Context, raw json.RawMessage) json.RawMessage {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		r.log.Warn("undecodable mcp message", zap.Error(err))
		return nil
	}

	var result any
	switch req.Method {
	case "initialize":
		result = r.initializeResult(req.Params)
	case "notifications/initialized":
		return nil
	case "tools/list":
		result = r.listResult()
	case "tools/call":
		result = r.callResult(ctx, req.Params)
	case "ping":
		result = struct{}{}
	default:
		return encodeResponse(rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: methodNotFound, Message: "Unknown method: " + req.Method},
		})
	}

	return encodeResponse(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (r *Registry) initializeResult(params json.RawMessage) initializeResult {
	version := defaultProtocolVersion
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err == nil && p.ProtocolVersion != "" {
			version = p.ProtocolVersion
		}
	}
	return initializeResult{
		ProtocolVersion: version,
		Capabilities:    serverCapabilities{Tools: toolsCapability{ListChanged: false}},
		ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
	}
}

func (r *Registry) listResult() listToolsResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]toolDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, toolDescriptor{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			InputSchema: e.tool.InputSchema,
		})
	}
	return listToolsResult{Tools: tools}
}

func (r *Registry) callResult(ctx context.Context, params json.RawMessage) *mcp.CallToolResult {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.NewToolResultError("Tool error: " + err.Error())
		}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}

	r.mu.RLock()
	e, ok := r.index[p.Name]
	r.mu.RUnlock()
	if !ok {
		return mcp.NewToolResultError("Unknown tool: " + p.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = p.Name
	req.Params.Arguments = p.Arguments

	result, err := safeCall(ctx, e.handler, req)
	if err != nil {
		r.log.Warn("tool handler failed",
			zap.String("tool", p.Name), zap.Error(err))
		return mcp.NewToolResultError("Tool error: " + err.Error())
	}
	if result == nil {
		result = &mcp.CallToolResult{}
	}
	return result
}

// safeCall shields the dispatcher from panicking handlers.
func safeCall(ctx context.Context, h Handler, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("%v", rec)
		}
	}()
	return h(ctx, req)
}

func encodeResponse(resp rpcResponse) json.RawMessage {
	data, err := json.Marshal(resp)
	if err != nil {
		// rpcResponse marshalling only fails on an unmarshalable tool
		// result payload; degrade to a bare protocol error.
		data, _ = json.Marshal(rpcResponse{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &rpcError{Code: -32603, Message: "Internal error: " + err.Error()},
		})
	}
	return data
}
