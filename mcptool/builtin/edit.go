package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"agentbridge/mcptool"
)

// Edit returns the string-replacement tool. Without replace_all, old_string
// must occur exactly once.
func Edit() (mcp.Tool, mcptool.Handler) {
	tool := mcp.NewTool("Edit",
		mcp.WithDescription("Replace old_string with new_string in a file. old_string must be unique unless replace_all is set."),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Path of the file to edit")),
		mcp.WithString("old_string", mcp.Required(), mcp.Description("Exact text to replace")),
		mcp.WithString("new_string", mcp.Required(), mcp.Description("Replacement text; may be empty to delete")),
		mcp.WithBoolean("replace_all", mcp.Description("Replace every occurrence instead of requiring uniqueness")),
	)
	return tool, editHandler
}

func editHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.Params.Arguments
	filePath := stringArg(args, "file_path")
	if filePath == "" {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	oldString := stringArg(args, "old_string")
	if oldString == "" {
		return mcp.NewToolResultError("old_string is required and must be non-empty"), nil
	}
	newString, ok := args["new_string"].(string)
	if !ok {
		return mcp.NewToolResultError("new_string is required"), nil
	}
	if oldString == newString {
		return mcp.NewToolResultError("old_string and new_string are the same; no change needed"), nil
	}
	replaceAll := boolArg(args, "replace_all")

	data, err := os.ReadFile(filePath)
	if err != nil {
		return mcp.NewToolResultError("failed to read file: " + err.Error()), nil
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return mcp.NewToolResultError("old_string not found in file: " + filePath), nil
	}
	if !replaceAll && count > 1 {
		return mcp.NewToolResultError(fmt.Sprintf(
			"old_string is not unique: found %d occurrences. Use replace_all=true to replace all, or provide more context to make it unique", count)), nil
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}

	if err := os.WriteFile(filePath, []byte(updated), 0644); err != nil {
		return mcp.NewToolResultError("failed to write file: " + err.Error()), nil
	}
	return mcp.NewToolResultText("edited " + filePath), nil
}
