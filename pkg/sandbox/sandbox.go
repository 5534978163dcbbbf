// Package sandbox confines filesystem paths to an authorized root directory.
//
// Untrusted relative paths go through two independent stages before any
// filesystem mutation:
//
//  1. Normalize: a pure, lossy string sanitizer that removes null bytes,
//     backslashes, duplicate slashes and resolves "." / ".." segments with a
//     segment stack. Extra leading ".." segments are dropped, not rejected,
//     so the output of Normalize alone is NOT a security boundary.
//  2. EnsureInsideRoot: resolves the real (symlink-free) path of the target,
//     or of its nearest existing ancestor when the target does not exist
//     yet, and proves it is prefixed by the real root.
//
// Both stages are always applied; a symlink inside the root pointing outside
// it defeats string-prefix checks, which is why stage 2 works on resolved
// paths.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideRoot is returned when a path resolves outside the
	// authorized root directory.
	ErrOutsideRoot = errors.New("path resolves outside the authorized root")

	// ErrInvalidPath is returned when a path has no existing ancestor
	// inside the root within the parent-walk bound.
	ErrInvalidPath = errors.New("invalid path")
)

// maxParentHops bounds the walk towards an existing ancestor when checking a
// path that does not exist yet.
const maxParentHops = 50

// Sandbox validates that paths stay inside a single root directory.
type Sandbox struct {
	root string
}

// New creates a sandbox rooted at the given directory, creating it if
// needed. The root is immutable for the lifetime of the sandbox.
func New(root string) (*Sandbox, error) {
	if root == "" {
		return nil, errors.New("sandbox root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the absolute (not symlink-resolved) root directory.
func (s *Sandbox) Root() string {
	return s.root
}

// Normalize sanitizes an untrusted slash-separated relative path.
//
// It strips null bytes, converts backslashes to slashes, collapses repeated
// slashes, trims surrounding whitespace and resolves "." and ".." segments
// structurally. It is pure, never fails, and is idempotent; degenerate input
// yields "" (the root).
func Normalize(raw string) string {
	raw = strings.ReplaceAll(raw, "\x00", "")
	raw = strings.ReplaceAll(raw, "\\", "/")
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "." {
		return ""
	}

	var parts []string
	for _, p := range strings.Split(raw, "/") {
		switch p {
		case "", ".":
			// collapses duplicate slashes as a side effect
		case "..":
			// Lossy: pops the previous segment if any, drops the ".."
			// otherwise. Containment is re-proven against the real root
			// before any mutation.
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// Abs maps a relative path to an absolute path under the root. The input is
// normalized first; Abs never escapes the root textually, but the result
// still requires EnsureInsideRoot before use because of symlinks.
func (s *Sandbox) Abs(rel string) string {
	rel = Normalize(rel)
	if rel == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Rel converts an absolute path inside the root back to a normalized
// root-relative path.
func (s *Sandbox) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, abs)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", ErrOutsideRoot
	}
	return rel, nil
}

// EnsureInsideRoot proves that abs resolves inside the sandbox root.
//
// The real root and the real target are compared after symlink resolution.
// If the target does not exist yet (legitimate for mkdir and rename
// targets), parent directories are walked upwards until one exists and that
// ancestor is checked instead; the non-existent tail is then trusted.
// Returns ErrOutsideRoot if resolution escapes the root, ErrInvalidPath if
// no ancestor exists within the walk bound.
func (s *Sandbox) EnsureInsideRoot(abs string) error {
	return EnsureInside(abs, s.root)
}

// EnsureInside is the same containment proof against an arbitrary sub-root,
// used when serving public shares rooted below the global root.
func EnsureInside(abs, rootAbs string) error {
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	if real, err := filepath.EvalSymlinks(abs); err == nil {
		if !isWithin(real, realRoot) {
			return fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
		}
		return nil
	}

	// Target does not exist: find the nearest existing ancestor and check
	// containment of that instead.
	probe := abs
	for i := 0; i < maxParentHops; i++ {
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
		real, err := filepath.EvalSymlinks(probe)
		if err != nil {
			continue
		}
		if !isWithin(real, realRoot) {
			return fmt.Errorf("%w: %s", ErrOutsideRoot, abs)
		}
		return nil
	}
	return fmt.Errorf("%w: no existing ancestor for %s", ErrInvalidPath, abs)
}

// isWithin reports whether path equals root or is nested under it. Both
// arguments must already be symlink-resolved.
func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// IsJunkName reports whether a file name is OS clutter (Finder/Explorer
// droppings) that maintenance scans skip.
func IsJunkName(name string) bool {
	switch name {
	case ".DS_Store", "__MACOSX", "Thumbs.db":
		return true
	}
	return strings.HasPrefix(name, "._")
}
