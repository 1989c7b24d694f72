package fsserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTools(t *testing.T) (*Tools, string) {
	t.Helper()
	dir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	guard, err := NewGuard([]string{dir})
	require.NoError(t, err)
	return NewTools(guard), dir
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestGuard_Resolve(t *testing.T) {
	tools, dir := newTools(t)
	g := tools.guard
	write(t, filepath.Join(dir, "a.txt"), "x")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative existing", "a.txt", filepath.Join(dir, "a.txt"), false},
		{"absolute existing", filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.txt"), false},
		{"new file", "new.txt", filepath.Join(dir, "new.txt"), false},
		{"root itself", dir, dir, false},
		{"escape with dots", "../outside.txt", "", true},
		{"absolute outside", "/etc/passwd", "", true},
		{"missing parent", "nope/new.txt", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard_RejectsSymlinkEscape(t *testing.T) {
	tools, dir := newTools(t)
	outside := t.TempDir()
	write(t, filepath.Join(outside, "secret.txt"), "s")
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := tools.guard.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrOutsideAllowed)
}

func TestGuard_SiblingPrefix(t *testing.T) {
	parent := t.TempDir()
	allowed := filepath.Join(parent, "work")
	sibling := filepath.Join(parent, "workshop")
	require.NoError(t, os.MkdirAll(allowed, 0755))
	write(t, filepath.Join(sibling, "f.txt"), "x")

	g, err := NewGuard([]string{allowed})
	require.NoError(t, err)

	_, err = g.Resolve(filepath.Join(sibling, "f.txt"))
	assert.ErrorIs(t, err, ErrOutsideAllowed, "a shared name prefix is not containment")
}

func TestTools_ReadWriteEdit(t *testing.T) {
	tools, dir := newTools(t)

	res := tools.WriteFile("notes/../doc.txt", "one\ntwo\nthree\n")
	require.True(t, res.Success, res.Output)

	res = tools.ReadFile("doc.txt", 0, 0)
	require.True(t, res.Success, res.Output)
	assert.Equal(t, "one\ntwo\nthree\n", res.Output)

	assert.Equal(t, "one", tools.ReadFile("doc.txt", 1, 0).Output)
	assert.Equal(t, "two\nthree", tools.ReadFile("doc.txt", 0, 2).Output)
	assert.False(t, tools.ReadFile("doc.txt", 1, 1).Success)

	res = tools.EditFile("doc.txt", "two", "TWO", true)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "+ TWO")
	data, _ := os.ReadFile(filepath.Join(dir, "doc.txt"))
	assert.Equal(t, "one\ntwo\nthree\n", string(data), "dry run must not write")

	res = tools.EditFile("doc.txt", "two", "TWO", false)
	require.True(t, res.Success, res.Output)
	data, _ = os.ReadFile(filepath.Join(dir, "doc.txt"))
	assert.Equal(t, "one\nTWO\nthree\n", string(data))

	assert.False(t, tools.EditFile("doc.txt", "absent", "x", false).Success)
	assert.False(t, tools.ReadFile("missing.txt", 0, 0).Success)
	assert.False(t, tools.ReadFile(".", 0, 0).Success, "directories cannot be read")
}

func TestTools_ReadFileTruncates(t *testing.T) {
	tools, dir := newTools(t)
	write(t, filepath.Join(dir, "big.txt"), strings.Repeat("a", MaxFileSize+10))

	res := tools.ReadFile("big.txt", 0, 0)
	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Output, "[Truncated:")
}

func TestTools_DirectoryOperations(t *testing.T) {
	tools, dir := newTools(t)

	res := tools.CreateDirectory("a/b/c")
	require.True(t, res.Success, res.Output)
	assert.DirExists(t, filepath.Join(dir, "a", "b", "c"))
	assert.False(t, tools.CreateDirectory("../../escape").Success)

	write(t, filepath.Join(dir, "a", "file.go"), "package a")
	write(t, filepath.Join(dir, "a", "b", "skip.log"), "log")

	res = tools.ListDirectory("a")
	require.True(t, res.Success)
	assert.Equal(t, "[DIR] b\n[FILE] file.go", res.Output)

	res = tools.DirectoryTree("a", []string{"*.log"})
	require.True(t, res.Success, res.Output)
	var tree []treeEntry
	require.NoError(t, json.Unmarshal([]byte(res.Output), &tree))
	require.Len(t, tree, 2)
	assert.Equal(t, "b", tree[0].Name)
	assert.Equal(t, "directory", tree[0].Type)
	require.Len(t, tree[0].Children, 1, "skip.log must be excluded")
	assert.Equal(t, "c", tree[0].Children[0].Name)

	res = tools.MoveFile("a/file.go", "a/b/moved.go")
	require.True(t, res.Success, res.Output)
	assert.FileExists(t, filepath.Join(dir, "a", "b", "moved.go"))
	assert.False(t, tools.MoveFile("a/b/moved.go", "a/b/skip.log").Success, "destination exists")

	res = tools.SearchFiles("", "*.go", nil)
	require.True(t, res.Success)
	assert.Equal(t, filepath.Join(dir, "a", "b", "moved.go"), res.Output)

	res = tools.SearchFiles("", "SKIP", []string{"c"})
	assert.Contains(t, res.Output, "skip.log")
	assert.Equal(t, "No matches found", tools.SearchFiles("", "zzz", nil).Output)

	res = tools.GetFileInfo("a/b/moved.go")
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "type: file")
	assert.Contains(t, res.Output, "9 B")

	res = tools.ListAllowedDirectories()
	assert.Contains(t, res.Output, dir)
}

func TestServer_HealthAndShutdown(t *testing.T) {
	dir := t.TempDir()
	srv, err := New(0, []string{dir}, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])

	resp, err = http.Post(base+"/shutdown", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after /shutdown")
	}
}

func TestServer_StopsWithContext(t *testing.T) {
	srv, err := New(0, []string{t.TempDir()}, nil)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

func handle(t *testing.T, tools *Tools, body string) map[string]any {
	t.Helper()
	s := NewMCPServer(tools)
	resp := s.HandleMessage(context.Background(), json.RawMessage(body))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestMCPServer_ListsTools(t *testing.T) {
	tools, _ := newTools(t)
	out := handle(t, tools, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)

	data, err := json.Marshal(out["result"])
	require.NoError(t, err)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(data, &result))

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"read_file", "write_file", "edit_file", "create_directory", "list_directory",
		"directory_tree", "move_file", "search_files", "get_file_info", "list_allowed_directories",
	}, names)
}

func TestMCPServer_CallTool(t *testing.T) {
	tools, dir := newTools(t)
	write(t, filepath.Join(dir, "hello.txt"), "hi there")

	out := handle(t, tools, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"hello.txt"}}}`)
	data, err := json.Marshal(out["result"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hi there")
	assert.NotContains(t, string(data), `"isError":true`)

	out = handle(t, tools, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"read_file","arguments":{"path":"/etc/passwd"}}}`)
	data, err = json.Marshal(out["result"])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"isError":true`)
	assert.Contains(t, string(data), "access denied")
}
