package builtin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"agentbridge/mcptool"
)

// Glob returns the file-matching tool: paths matching a doublestar pattern,
// newest first.
func Glob() (mcp.Tool, mcptool.Handler) {
	tool := mcp.NewTool("Glob",
		mcp.WithDescription("Find files matching a glob pattern such as **/*.go, sorted by modification time, newest first."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob pattern to match against relative paths")),
		mcp.WithString("path", mcp.Description("Directory to search; defaults to the working directory")),
	)
	return tool, globHandler
}

func globHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := stringArg(req.Params.Arguments, "pattern")
	if pattern == "" {
		return mcp.NewToolResultError("pattern is required"), nil
	}
	basePath := stringArg(req.Params.Arguments, "path")
	if basePath == "" {
		basePath = "."
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := os.Stat(absPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type fileEntry struct {
		path    string
		modTime int64
	}
	var matches []fileEntry

	filepath.WalkDir(absPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(absPath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil {
			return nil
		}
		if !matched {
			// simple patterns also match on the bare filename
			matched, _ = doublestar.Match(pattern, filepath.Base(path))
		}
		if matched {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			matches = append(matches, fileEntry{path: path, modTime: info.ModTime().UnixNano()})
		}
		return nil
	})

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime > matches[j].modTime
	})

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}
