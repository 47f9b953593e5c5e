package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"agentbridge/mcptool"
)

// Read returns the file-reading tool: numbered lines with optional offset
// and limit.
func Read() (mcp.Tool, mcptool.Handler) {
	tool := mcp.NewTool("Read",
		mcp.WithDescription("Read a file and return its content with line numbers. Supports a 1-indexed offset and a line limit."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path of the file to read")),
		mcp.WithNumber("offset", mcp.Description("1-indexed line number to start reading from")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of lines to return")),
	)
	return tool, readHandler
}

func readHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath := stringArg(req.Params.Arguments, "file_path")
	if filePath == "" {
		return mcp.NewToolResultError("file_path is required"), nil
	}

	offset := intArg(req.Params.Arguments, "offset")
	if offset < 1 {
		offset = 1
	}
	limit := intArg(req.Params.Arguments, "limit")

	data, err := os.ReadFile(filePath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) == 0 {
		return mcp.NewToolResultText(""), nil
	}

	lines := splitLines(string(data))

	startIdx := offset - 1
	if startIdx >= len(lines) {
		return mcp.NewToolResultText(""), nil
	}
	endIdx := len(lines)
	if limit > 0 && startIdx+limit < endIdx {
		endIdx = startIdx + limit
	}

	var sb strings.Builder
	for i := startIdx; i < endIdx; i++ {
		fmt.Fprintf(&sb, "%d\t%s\n", i+1, lines[i])
	}
	return mcp.NewToolResultText(strings.TrimSuffix(sb.String(), "\n")), nil
}

// splitLines splits content into lines, dropping the empty tail a trailing
// newline produces.
func splitLines(content string) []string {
	if content == "" {
		return []string{}
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
