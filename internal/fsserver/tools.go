package fsserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// MaxFileSize is the largest file read_file returns in full (512KB).
const MaxFileSize = 512 * 1024

// MaxSearchResults caps search_files output.
const MaxSearchResults = 200

// Result is the outcome of one file tool call.
type Result struct {
	Success   bool
	Output    string
	Truncated bool
}

func ok(format string, args ...any) Result {
	return Result{Success: true, Output: fmt.Sprintf(format, args...)}
}

func fail(err error) Result {
	return Result{Output: "Error: " + err.Error()}
}

// Tools implements the filesystem tools over a Guard.
type Tools struct {
	guard *Guard
}

// NewTools creates Tools confined by guard.
func NewTools(guard *Guard) *Tools {
	return &Tools{guard: guard}
}

// ReadFile returns the text of path. head or tail (not both) limit the
// output to the first or last N lines.
func (t *Tools) ReadFile(path string, head, tail int) Result {
	if head > 0 && tail > 0 {
		return fail(errors.New("cannot specify both head and tail"))
	}
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("file not found: %s", path))
		}
		return fail(err)
	}
	if info.IsDir() {
		return fail(fmt.Errorf("%s is a directory, use list_directory instead", path))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fail(err)
	}

	if head > 0 || tail > 0 {
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		switch {
		case head > 0 && head < len(lines):
			lines = lines[:head]
		case tail > 0 && tail < len(lines):
			lines = lines[len(lines)-tail:]
		}
		return Result{Success: true, Output: strings.Join(lines, "\n")}
	}

	if info.Size() > MaxFileSize {
		out := string(data[:MaxFileSize])
		out += fmt.Sprintf("\n\n[Truncated: file is %s, showing first %s]",
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(MaxFileSize))
		return Result{Success: true, Output: out, Truncated: true}
	}
	return Result{Success: true, Output: string(data)}
}

// WriteFile creates or replaces path. The content goes to a temporary file
// that is renamed into place.
func (t *Tools) WriteFile(path, content string) Result {
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fail(err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fail(err)
	}
	return ok("Wrote %s to %s", humanize.Bytes(uint64(len(content))), path)
}

// EditFile replaces the first occurrence of oldText with newText. With
// dryRun the file is left untouched and only the diff is returned.
func (t *Tools) EditFile(path, oldText, newText string, dryRun bool) Result {
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("file not found: %s", path))
		}
		return fail(err)
	}

	content := string(data)
	if oldText == "" || !strings.Contains(content, oldText) {
		return fail(errors.New("text not found in file"))
	}
	count := strings.Count(content, oldText)
	diff := GenerateDiff(path, oldText, newText)
	if dryRun {
		return Result{Success: true, Output: diff}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fail(err)
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return fail(err)
	}

	msg := "Edited " + path
	if count > 1 {
		msg += fmt.Sprintf(" (replaced 1 of %d occurrences)", count)
	}
	return Result{Success: true, Output: msg + "\n" + diff}
}

// CreateDirectory creates path and any missing parents.
func (t *Tools) CreateDirectory(path string) Result {
	abs, err := t.guard.Resolve(path)
	if err != nil {
		// a missing parent is fine here, as long as the target is allowed
		abs, err = t.resolveDeep(path)
		if err != nil {
			return fail(err)
		}
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fail(err)
	}
	return ok("Created directory %s", path)
}

// resolveDeep validates a path whose parents may not exist yet by walking up
// to the nearest existing ancestor.
func (t *Tools) resolveDeep(path string) (string, error) {
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.guard.allowed[0], path)
	}
	abs := filepath.Clean(path)

	var missing []string
	cur := abs
	for {
		if _, err := os.Stat(cur); err == nil {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("%w: %s", ErrOutsideAllowed, abs)
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
	base, err := t.guard.Resolve(cur)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{base}, missing...)...), nil
}

// ListDirectory lists path with [DIR] and [FILE] prefixes.
func (t *Tools) ListDirectory(path string) Result {
	if path == "" {
		path = "."
	}
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fail(err)
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString("[DIR] ")
		} else {
			sb.WriteString("[FILE] ")
		}
		sb.WriteString(e.Name())
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return Result{Success: true, Output: "(empty directory)"}
	}
	return Result{Success: true, Output: strings.TrimSuffix(sb.String(), "\n")}
}

type treeEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children []treeEntry `json:"children,omitempty"`
}

// DirectoryTree returns a JSON tree of path. Entries matching any exclude
// glob are skipped.
func (t *Tools) DirectoryTree(path string, exclude []string) Result {
	if path == "" {
		path = "."
	}
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}

	tree, err := buildTree(abs, abs, exclude)
	if err != nil {
		return fail(err)
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fail(err)
	}
	return Result{Success: true, Output: string(data)}
}

func buildTree(root, dir string, exclude []string) ([]treeEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]treeEntry, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		rel, _ := filepath.Rel(root, full)
		if excluded(rel, e.Name(), exclude) {
			continue
		}
		entry := treeEntry{Name: e.Name(), Type: "file"}
		if e.IsDir() {
			entry.Type = "directory"
			children, err := buildTree(root, full, exclude)
			if err != nil {
				return nil, err
			}
			entry.Children = children
		}
		out = append(out, entry)
	}
	return out, nil
}

func excluded(rel, name string, patterns []string) bool {
	for _, p := range patterns {
		if m, _ := filepath.Match(p, name); m {
			return true
		}
		if m, _ := filepath.Match(p, filepath.ToSlash(rel)); m {
			return true
		}
	}
	return false
}

// MoveFile renames source to destination. The destination must not exist.
func (t *Tools) MoveFile(source, destination string) Result {
	src, err := t.guard.Resolve(source)
	if err != nil {
		return fail(err)
	}
	dst, err := t.guard.Resolve(destination)
	if err != nil {
		return fail(err)
	}
	if _, err := os.Lstat(src); err != nil {
		return fail(fmt.Errorf("source not found: %s", source))
	}
	if _, err := os.Lstat(dst); err == nil {
		return fail(fmt.Errorf("destination already exists: %s", destination))
	}
	if err := os.Rename(src, dst); err != nil {
		return fail(err)
	}
	return ok("Moved %s to %s", source, destination)
}

// SearchFiles walks path for names matching pattern. A pattern without glob
// characters matches as a case-insensitive substring.
func (t *Tools) SearchFiles(path, pattern string, exclude []string) Result {
	if pattern == "" {
		return fail(errors.New("pattern is required"))
	}
	if path == "" {
		path = "."
	}
	root, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}

	glob := strings.ContainsAny(pattern, "*?[")
	needle := strings.ToLower(pattern)
	var matches []string
	truncated := false

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if excluded(rel, d.Name(), exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var hit bool
		if glob {
			hit, _ = filepath.Match(pattern, d.Name())
		} else {
			hit = strings.Contains(strings.ToLower(d.Name()), needle)
		}
		if hit {
			if len(matches) == MaxSearchResults {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, p)
		}
		return nil
	})
	if walkErr != nil {
		return fail(walkErr)
	}

	if len(matches) == 0 {
		return Result{Success: true, Output: "No matches found"}
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n[Truncated: showing first %d matches]", MaxSearchResults)
	}
	return Result{Success: true, Output: out, Truncated: truncated}
}

// GetFileInfo describes path.
func (t *Tools) GetFileInfo(path string) Result {
	abs, err := t.guard.Resolve(path)
	if err != nil {
		return fail(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fail(err)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	lines := []string{
		"path: " + abs,
		"type: " + kind,
		fmt.Sprintf("size: %s (%d bytes)", humanize.Bytes(uint64(info.Size())), info.Size()),
		"modified: " + info.ModTime().Format("2006-01-02 15:04:05") + " (" + humanize.Time(info.ModTime()) + ")",
		"permissions: " + info.Mode().Perm().String(),
	}
	return Result{Success: true, Output: strings.Join(lines, "\n")}
}

// ListAllowedDirectories returns the directories the tools may touch.
func (t *Tools) ListAllowedDirectories() Result {
	dirs := t.guard.Allowed()
	sort.Strings(dirs)
	return Result{Success: true, Output: "Allowed directories:\n" + strings.Join(dirs, "\n")}
}

// GenerateDiff creates a small unified-style diff for display.
func GenerateDiff(path, oldText, newText string) string {
	var sb strings.Builder
	sb.WriteString("--- " + path + "\n")
	sb.WriteString("+++ " + path + "\n")

	write := func(prefix, text string) {
		sc := bufio.NewScanner(strings.NewReader(text))
		for sc.Scan() {
			sb.WriteString(prefix)
			sb.WriteString(sc.Text())
			sb.WriteString("\n")
		}
	}
	write("- ", oldText)
	write("+ ", newText)
	return sb.String()
}
