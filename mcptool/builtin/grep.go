package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"

	"agentbridge/mcptool"
)

// Grep returns the content-search tool: regex search across files with
// ripgrep-flavored options.
func Grep() (mcp.Tool, mcptool.Handler) {
	tool := mcp.NewTool("Grep",
		mcp.WithDescription("Search file contents with a regular expression. Output modes: files_with_matches (default), content, count."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Regular expression to search for")),
		mcp.WithString("path", mcp.Description("File or directory to search; defaults to the working directory")),
		mcp.WithString("glob", mcp.Description("Glob filter on file names, e.g. *.go")),
		mcp.WithString("output_mode", mcp.Description("files_with_matches, content, or count")),
		mcp.WithBoolean("-i", mcp.Description("Case insensitive search")),
		mcp.WithNumber("-C", mcp.Description("Context lines before and after each match")),
		mcp.WithNumber("-A", mcp.Description("Context lines after each match")),
		mcp.WithNumber("-B", mcp.Description("Context lines before each match")),
		mcp.WithNumber("head_limit", mcp.Description("Stop after this many results")),
	)
	return tool, grepHandler
}

func grepHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.Params.Arguments
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return mcp.NewToolResultError("pattern is required"), nil
	}
	if boolArg(args, "-i") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return mcp.NewToolResultError("invalid regex: " + err.Error()), nil
	}

	searchPath := stringArg(args, "path")
	if searchPath == "" {
		searchPath = "."
	}
	info, err := os.Stat(searchPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	globPattern := stringArg(args, "glob")
	outputMode := stringArg(args, "output_mode")
	if outputMode == "" {
		outputMode = "files_with_matches"
	}
	contextBefore := intArg(args, "-C")
	contextAfter := contextBefore
	if v := intArg(args, "-A"); v > 0 {
		contextAfter = v
	}
	if v := intArg(args, "-B"); v > 0 {
		contextBefore = v
	}
	headLimit := intArg(args, "head_limit")

	var results []string
	var totalCount int

	searchFile := func(filePath string) error {
		if headLimit > 0 && len(results) >= headLimit {
			return filepath.SkipAll
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil
		}
		if isBinary(data) {
			return nil
		}

		lines := strings.Split(string(data), "\n")
		var matched []int
		for i, line := range lines {
			if re.MatchString(line) {
				matched = append(matched, i)
			}
		}
		if len(matched) == 0 {
			return nil
		}

		switch outputMode {
		case "count":
			totalCount += len(matched)
		case "content":
			results = append(results, formatMatches(filePath, lines, matched, contextBefore, contextAfter))
		default:
			results = append(results, filePath)
		}
		return nil
	}

	if info.IsDir() {
		filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if globPattern != "" {
				if ok, _ := doublestar.Match(globPattern, filepath.Base(path)); !ok {
					return nil
				}
			}
			return searchFile(path)
		})
	} else {
		searchFile(searchPath)
	}

	if outputMode == "count" {
		return mcp.NewToolResultText(fmt.Sprintf("%d", totalCount)), nil
	}
	if headLimit > 0 && len(results) > headLimit {
		results = results[:headLimit]
	}
	return mcp.NewToolResultText(strings.Join(results, "\n")), nil
}

// isBinary treats any null byte in the head of the file as binary content.
func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.Contains(head, []byte{0})
}

func formatMatches(filePath string, lines []string, matched []int, before, after int) string {
	included := make(map[int]bool)
	for _, idx := range matched {
		start := idx - before
		if start < 0 {
			start = 0
		}
		end := idx + after + 1
		if end > len(lines) {
			end = len(lines)
		}
		for i := start; i < end; i++ {
			included[i] = true
		}
	}

	var sb strings.Builder
	sb.WriteString(filePath)
	sb.WriteString(":\n")
	for i := 0; i < len(lines); i++ {
		if included[i] {
			fmt.Fprintf(&sb, "%d\t%s\n", i+1, lines[i])
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
