package acl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/dropzone/pkg/sandbox"
)

// Resolver evaluates folder grants against filesystem paths.
//
// Every check re-reads the user database and recomputes the effective root
// set; grants can change between requests and must never be cached across
// them. Admins, and every caller when authentication is disabled, bypass
// grant evaluation but still get root containment enforced.
type Resolver struct {
	sb          *sandbox.Sandbox
	store       *Store
	authEnabled bool
}

// NewResolver creates a resolver over the given sandbox and user store.
// When authEnabled is false every principal owns the whole tree.
func NewResolver(sb *sandbox.Sandbox, store *Store, authEnabled bool) *Resolver {
	return &Resolver{sb: sb, store: store, authEnabled: authEnabled}
}

// bypass reports whether the principal skips grant evaluation entirely.
func (r *Resolver) bypass(p Principal) bool {
	return p.Admin || !r.authEnabled
}

// EffectiveRoots returns the minimal covering set of folders the principal
// may access: {""} (the whole tree) for admins and for any caller when
// authentication is disabled, otherwise the user's grant paths with entries
// nested under another entry removed.
func (r *Resolver) EffectiveRoots(p Principal) ([]string, error) {
	if r.bypass(p) {
		return []string{""}, nil
	}
	if p.Name == "" {
		return nil, nil
	}

	db, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	u, ok := db.Users[p.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, p.Name)
	}

	paths := make([]string, 0, len(u.Folders))
	for rel := range u.Folders {
		if rel != "" {
			paths = append(paths, rel)
		}
	}
	return minimalCover(paths), nil
}

// minimalCover sorts lexicographically and greedily keeps an entry only if
// no previously kept entry is a path prefix of it.
func minimalCover(paths []string) []string {
	sort.Strings(paths)
	var roots []string
next:
	for _, p := range paths {
		for _, kept := range roots {
			if p == kept || strings.HasPrefix(p+"/", kept+"/") {
				continue next
			}
		}
		roots = append(roots, p)
	}
	return roots
}

// covers reports whether rel equals or is nested under the grant path.
func covers(grant, rel string) bool {
	return grant == "" || rel == grant || strings.HasPrefix(rel+"/", grant+"/")
}

// EnsureReadable proves the principal may access the given absolute path.
// The path must exist; use EnsureTargetCreatable for paths being created.
// Root containment is enforced for every principal, grant evaluation only
// for non-bypassing ones.
func (r *Resolver) EnsureReadable(p Principal, abs string) error {
	if err := r.sb.EnsureInsideRoot(abs); err != nil {
		return err
	}
	if r.bypass(p) {
		return nil
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrInvalidPath, abs)
	}
	realRoot, err := filepath.EvalSymlinks(r.sb.Root())
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	rel, err := relWithin(real, realRoot)
	if err != nil {
		return err
	}

	roots, err := r.EffectiveRoots(p)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("%w: %s", ErrNoGrants, p.Name)
	}
	for _, grant := range roots {
		if covers(grant, rel) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, rel)
}

// EnsureWritable proves the principal holds a write-mode grant equal to or
// covering the given root-relative folder. Unlike EffectiveRoots this
// evaluates the raw grant entries, so a nested write grant under a broader
// read grant still takes effect.
func (r *Resolver) EnsureWritable(p Principal, rel string) error {
	if r.bypass(p) {
		return nil
	}
	if p.Name == "" {
		return ErrWriteDenied
	}

	db, err := r.store.Load()
	if err != nil {
		return err
	}
	u, ok := db.Users[p.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, p.Name)
	}

	rel = sandbox.Normalize(rel)
	for grant, mode := range u.Folders {
		if mode == ModeWrite && covers(grant, rel) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWriteDenied, rel)
}

// EnsureTargetCreatable validates a target path that does not exist yet
// (mkdir, upload destination): the nearest existing ancestor must pass the
// readability check, and every existing ancestor on the way must resolve
// inside the root.
func (r *Resolver) EnsureTargetCreatable(p Principal, absTarget string) error {
	if r.bypass(p) {
		return r.sb.EnsureInsideRoot(absTarget)
	}

	probe := absTarget
	for i := 0; i < 50; i++ {
		if _, err := os.Lstat(probe); err == nil {
			return r.EnsureReadable(p, probe)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	return fmt.Errorf("%w: no existing ancestor for %s", sandbox.ErrInvalidPath, absTarget)
}

// CleanupDeadGrants removes grants whose target directory no longer exists,
// persisting the database exactly once if anything changed. It returns the
// removed grant paths per user.
func (r *Resolver) CleanupDeadGrants() (map[string][]string, error) {
	removed := map[string][]string{}

	err := r.store.Update(func(db *DB) (bool, error) {
		changed := false
		for name, u := range db.Users {
			if u.IsAdmin() {
				continue
			}
			for rel := range u.Folders {
				info, err := os.Stat(r.sb.Abs(rel))
				if err == nil && info.IsDir() {
					continue
				}
				delete(u.Folders, rel)
				removed[name] = append(removed[name], rel)
				changed = true
			}
			if len(u.Folders) == 0 {
				u.Folders = nil
			}
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	for _, rels := range removed {
		sort.Strings(rels)
	}
	return removed, nil
}

// RevokeGrantsUnder strips every grant equal to or nested under the given
// path. It is invoked by delete operations after removing a directory.
func (r *Resolver) RevokeGrantsUnder(rel string) error {
	rel = sandbox.Normalize(rel)
	if rel == "" {
		return nil
	}

	return r.store.Update(func(db *DB) (bool, error) {
		changed := false
		for _, u := range db.Users {
			if u.IsAdmin() {
				continue
			}
			for grant := range u.Folders {
				if grant == rel || strings.HasPrefix(grant+"/", rel+"/") {
					delete(u.Folders, grant)
					changed = true
				}
			}
			if len(u.Folders) == 0 {
				u.Folders = nil
			}
		}
		return changed, nil
	})
}

// relWithin computes the root-relative path of real, which must already be
// symlink-resolved and inside realRoot.
func relWithin(real, realRoot string) (string, error) {
	if real == realRoot {
		return "", nil
	}
	prefix := realRoot + string(filepath.Separator)
	if !strings.HasPrefix(real, prefix) {
		return "", fmt.Errorf("%w: %s", sandbox.ErrOutsideRoot, real)
	}
	return filepath.ToSlash(strings.TrimPrefix(real, prefix)), nil
}
