package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"agentbridge/mcptool"
)

// Write returns the file-writing tool. Parent directories are created as
// needed.
func Write() (mcp.Tool, mcptool.Handler) {
	tool := mcp.NewTool("Write",
		mcp.WithDescription("Write content to a file, creating parent directories as needed. Overwrites an existing file."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path of the file to write")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full content to write")),
	)
	return tool, writeHandler
}

func writeHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath := stringArg(req.Params.Arguments, "file_path")
	if filePath == "" {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	content, ok := req.Params.Arguments["content"].(string)
	if !ok {
		return mcp.NewToolResultError("content is required"), nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return mcp.NewToolResultError("failed to create directory: " + err.Error()), nil
	}
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return mcp.NewToolResultError("failed to write file: " + err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), filePath)), nil
}
