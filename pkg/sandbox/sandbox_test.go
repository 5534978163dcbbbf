package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"dot", ".", ""},
		{"simple", "a/b/c", "a/b/c"},
		{"leading slash", "/a/b", "a/b"},
		{"trailing slash", "a/b/", "a/b"},
		{"duplicate slashes", "a//b///c", "a/b/c"},
		{"backslashes", `a\b\c`, "a/b/c"},
		{"null bytes", "a\x00/b", "a/b"},
		{"dot segments", "a/./b/./c", "a/b/c"},
		{"parent pops", "a/b/../c", "a/c"},
		{"parent pops all", "a/..", ""},
		{"leading parents dropped", "../../etc", "etc"},
		{"mixed traversal", "a/../../b/../c", "c"},
		{"whitespace", "  a/b  ", "a/b"},
		{"only slashes", "///", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", ".", "a/b/../c", `..\..\x`, "//a//b//", "../../etc/passwd"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestAbsNeverEscapesRoot(t *testing.T) {
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	inputs := []string{"../../etc/passwd", "..", "a/../../../x", `..\..\secret`, "/abs/path"}
	for _, in := range inputs {
		abs := sb.Abs(in)
		if abs != sb.Root() && !strings.HasPrefix(abs, sb.Root()+string(filepath.Separator)) {
			t.Errorf("Abs(%q) = %q escapes root %q", in, abs, sb.Root())
		}
	}
}

func TestEnsureInsideRootExisting(t *testing.T) {
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(sb.Root(), "docs")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	if err := sb.EnsureInsideRoot(sub); err != nil {
		t.Errorf("EnsureInsideRoot(%q) = %v, want nil", sub, err)
	}
	if err := sb.EnsureInsideRoot(sb.Root()); err != nil {
		t.Errorf("EnsureInsideRoot(root) = %v, want nil", err)
	}

	outside := t.TempDir()
	if err := sb.EnsureInsideRoot(outside); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("EnsureInsideRoot(outside) = %v, want ErrOutsideRoot", err)
	}
}

func TestEnsureInsideRootNonExistentTail(t *testing.T) {
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// mkdir targets legitimately do not exist yet; the nearest existing
	// ancestor (the root) carries the containment proof.
	target := filepath.Join(sb.Root(), "new", "deep", "dir")
	if err := sb.EnsureInsideRoot(target); err != nil {
		t.Errorf("EnsureInsideRoot(nonexistent tail) = %v, want nil", err)
	}
}

func TestEnsureInsideRootSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on windows")
	}
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	link := filepath.Join(sb.Root(), "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	// The link itself and anything beneath it resolve outside the root.
	if err := sb.EnsureInsideRoot(link); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("EnsureInsideRoot(symlink) = %v, want ErrOutsideRoot", err)
	}
	if err := sb.EnsureInsideRoot(filepath.Join(link, "file.txt")); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("EnsureInsideRoot(under symlink) = %v, want ErrOutsideRoot", err)
	}
}

func TestEnsureInsideSubRoot(t *testing.T) {
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	share := filepath.Join(sb.Root(), "shared")
	other := filepath.Join(sb.Root(), "private")
	for _, d := range []string{share, other} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := EnsureInside(filepath.Join(share, "a.txt"), share); err != nil {
		t.Errorf("EnsureInside(inside share) = %v, want nil", err)
	}
	if err := EnsureInside(other, share); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("EnsureInside(sibling) = %v, want ErrOutsideRoot", err)
	}
}

func TestRel(t *testing.T) {
	sb, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rel, err := sb.Rel(filepath.Join(sb.Root(), "a", "b"))
	if err != nil || rel != "a/b" {
		t.Errorf("Rel = %q, %v; want a/b, nil", rel, err)
	}

	rel, err = sb.Rel(sb.Root())
	if err != nil || rel != "" {
		t.Errorf("Rel(root) = %q, %v; want \"\", nil", rel, err)
	}

	if _, err := sb.Rel(filepath.Dir(sb.Root())); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("Rel(parent of root) = %v, want ErrOutsideRoot", err)
	}
}

func TestIsJunkName(t *testing.T) {
	for _, name := range []string{".DS_Store", "__MACOSX", "Thumbs.db", "._resource"} {
		if !IsJunkName(name) {
			t.Errorf("IsJunkName(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"report.pdf", ".hidden", "_underscore", "DS_Store"} {
		if IsJunkName(name) {
			t.Errorf("IsJunkName(%q) = true, want false", name)
		}
	}
}
