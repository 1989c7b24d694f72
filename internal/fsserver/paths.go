package fsserver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned for paths outside every allowed directory.
var ErrOutsideAllowed = errors.New("access denied: path outside allowed directories")

// Guard confines file operations to a set of directories.
type Guard struct {
	allowed []string
}

// NewGuard resolves dirs to absolute, symlink-free paths. With no dirs the
// working directory is allowed.
func NewGuard(dirs []string) (*Guard, error) {
	if len(dirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dirs = []string{wd}
	}

	g := &Guard{}
	for _, d := range dirs {
		abs, err := filepath.Abs(expandHome(d))
		if err != nil {
			return nil, fmt.Errorf("invalid directory %q: %w", d, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %q: %w", d, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed directory %q is not a directory", d)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		g.allowed = append(g.allowed, abs)
	}
	return g, nil
}

// Allowed returns the allowed directories.
func (g *Guard) Allowed() []string {
	return append([]string(nil), g.allowed...)
}

// Resolve validates path and returns its absolute form. Relative paths are
// taken from the first allowed directory. A path that does not exist yet
// must have an existing, allowed parent.
func (g *Guard) Resolve(path string) (string, error) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.allowed[0], path)
	}
	abs := filepath.Clean(path)

	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		if !g.contains(real) {
			return "", fmt.Errorf("%w: %s", ErrOutsideAllowed, abs)
		}
		return real, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", fmt.Errorf("parent directory does not exist: %s", filepath.Dir(abs))
	}
	target := filepath.Join(parent, filepath.Base(abs))
	if !g.contains(target) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAllowed, abs)
	}
	return target, nil
}

func (g *Guard) contains(path string) bool {
	for _, root := range g.allowed {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
