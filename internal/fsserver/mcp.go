package fsserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// ServerName is the MCP implementation name.
const ServerName = "dulayni-filesystem"

func toolResult(r Result) *mcp.CallToolResult {
	if !r.Success {
		return mcp.NewToolResultError(r.Output)
	}
	return mcp.NewToolResultText(r.Output)
}

func requirePath(req mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	p, err := req.RequireString(name)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return p, nil
}

var excludeItems = mcp.Items(map[string]any{"type": "string"})

// NewMCPServer registers the filesystem tools on a new MCP server.
func NewMCPServer(tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		constants.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a text file. Use head or tail to return only the first or last N lines."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to read")),
		mcp.WithNumber("head", mcp.Description("Return only the first N lines")),
		mcp.WithNumber("tail", mcp.Description("Return only the last N lines")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, errRes := requirePath(req, "path")
		if errRes != nil {
			return errRes, nil
		}
		return toolResult(tools.ReadFile(path, req.GetInt("head", 0), req.GetInt("tail", 0))), nil
	})

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create a file or overwrite it with new content."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to write")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full file content")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, errRes := requirePath(req, "path")
		if errRes != nil {
			return errRes, nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(tools.WriteFile(path, content)), nil
	})

	s.AddTool(mcp.NewTool("edit_file",
		mcp.WithDescription("Replace the first occurrence of old_text with new_text. dry_run returns the diff only."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to edit")),
		mcp.WithString("old_text", mcp.Required(), mcp.Description("Exact text to replace")),
		mcp.WithString("new_text", mcp.Required(), mcp.Description("Replacement text")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview the change without writing")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, errRes := requirePath(req, "path")
		if errRes != nil {
			return errRes, nil
		}
		oldText, err := req.RequireString("old_text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		newText := req.GetString("new_text", "")
		return toolResult(tools.EditFile(path, oldText, newText, req.GetBool("dry_run", false))), nil
	})

	s.AddTool(mcp.NewTool("create_directory",
		mcp.WithDescription("Create a directory, including missing parents."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory to create")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, errRes := requirePath(req, "path")
		if errRes != nil {
			return errRes, nil
		}
		return toolResult(tools.CreateDirectory(path)), nil
	})

	s.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List a directory, marking entries with [DIR] or [FILE]."),
		mcp.WithString("path", mcp.Description("Directory to list, defaults to the first allowed directory")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResult(tools.ListDirectory(req.GetString("path", ""))), nil
	})

	s.AddTool(mcp.NewTool("directory_tree",
		mcp.WithDescription("Return a recursive JSON tree of a directory."),
		mcp.WithString("path", mcp.Description("Root of the tree")),
		mcp.WithArray("exclude_patterns", excludeItems, mcp.Description("Glob patterns to skip")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		exclude := req.GetStringSlice("exclude_patterns", nil)
		return toolResult(tools.DirectoryTree(req.GetString("path", ""), exclude)), nil
	})

	s.AddTool(mcp.NewTool("move_file",
		mcp.WithDescription("Move or rename a file or directory. Fails if the destination exists."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Current path")),
		mcp.WithString("destination", mcp.Required(), mcp.Description("New path")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		src, errRes := requirePath(req, "source")
		if errRes != nil {
			return errRes, nil
		}
		dst, errRes := requirePath(req, "destination")
		if errRes != nil {
			return errRes, nil
		}
		return toolResult(tools.MoveFile(src, dst)), nil
	})

	s.AddTool(mcp.NewTool("search_files",
		mcp.WithDescription("Find files whose name matches a glob or contains a substring."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob or substring")),
		mcp.WithString("path", mcp.Description("Directory to search")),
		mcp.WithArray("exclude_patterns", excludeItems, mcp.Description("Glob patterns to skip")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, errRes := requirePath(req, "pattern")
		if errRes != nil {
			return errRes, nil
		}
		exclude := req.GetStringSlice("exclude_patterns", nil)
		return toolResult(tools.SearchFiles(req.GetString("path", ""), pattern, exclude)), nil
	})

	s.AddTool(mcp.NewTool("get_file_info",
		mcp.WithDescription("Show size, type, permissions and modification time of a path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to inspect")),
	), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, errRes := requirePath(req, "path")
		if errRes != nil {
			return errRes, nil
		}
		return toolResult(tools.GetFileInfo(path)), nil
	})

	s.AddTool(mcp.NewTool("list_allowed_directories",
		mcp.WithDescription("List the directories this server may access."),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolResult(tools.ListAllowedDirectories()), nil
	})

	return s
}
