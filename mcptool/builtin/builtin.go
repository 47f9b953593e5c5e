// Package builtin provides the bridge's first-party tools: file helpers the
// agent can invoke through the embedded MCP dispatcher to work against the
// host's filesystem.
package builtin

import (
	"agentbridge/mcptool"
)

// RegisterAll adds every built-in tool to the registry.
func RegisterAll(reg *mcptool.Registry) {
	reg.Register(Read())
	reg.Register(Write())
	reg.Register(Edit())
	reg.Register(Glob())
	reg.Register(Grep())
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
