package acl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/dropzone/pkg/sandbox"
)

// Store persists the user database as a single JSON document.
//
// All mutations load the document, modify it and write it back atomically
// (temp file + rename) under the store mutex. The document is small enough
// that this keeps every reader consistent without a database.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a user store backed by the given JSON file, creating the
// parent directory if needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("user database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create user database directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the user database file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the user database. A missing file yields an
// empty database. Grant paths are normalized and grant modes validated as a
// closed enum at this boundary.
func (s *Store) Load() (*DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*DB, error) {
	db := &DB{Users: map[string]*User{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}
		return nil, fmt.Errorf("read user database: %w", err)
	}

	if err := json.Unmarshal(data, db); err != nil {
		return nil, fmt.Errorf("parse user database: %w", err)
	}
	if db.Users == nil {
		db.Users = map[string]*User{}
	}

	for name, u := range db.Users {
		if u == nil {
			delete(db.Users, name)
			continue
		}
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		u.Folders = normalizeGrants(u.Folders)
	}
	return db, nil
}

// Save writes the user database atomically.
func (s *Store) Save(db *DB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(db)
}

func (s *Store) saveLocked(db *DB) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user database: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write user database: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace user database: %w", err)
	}
	return nil
}

// Update applies fn to the loaded database and persists the result if fn
// reports a change. All admin mutations go through this single primitive.
func (s *Store) Update(fn func(db *DB) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.loadLocked()
	if err != nil {
		return err
	}
	changed, err := fn(db)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked(db)
}

// AddUser creates a new user with the given role and a bcrypt-hashed
// password.
func (s *Store) AddUser(name, password string, role Role) error {
	if name == "" {
		return errors.New("username is required")
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	return s.Update(func(db *DB) (bool, error) {
		if _, ok := db.Users[name]; ok {
			return false, ErrDuplicateUser
		}
		db.Users[name] = &User{
			PasswordHash: hash,
			Role:         role,
			CreatedAt:    time.Now().UTC(),
		}
		return true, nil
	})
}

// DeleteUser removes a user. The last remaining user and admin users cannot
// be deleted through this path.
func (s *Store) DeleteUser(name string) error {
	return s.Update(func(db *DB) (bool, error) {
		u, ok := db.Users[name]
		if !ok {
			return false, ErrUserNotFound
		}
		if u.IsAdmin() {
			return false, ErrDeleteAdmin
		}
		if len(db.Users) <= 1 {
			return false, ErrLastUser
		}
		delete(db.Users, name)
		return true, nil
	})
}

// SetPassword replaces a user's password hash.
func (s *Store) SetPassword(name, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.Update(func(db *DB) (bool, error) {
		u, ok := db.Users[name]
		if !ok {
			return false, ErrUserNotFound
		}
		u.PasswordHash = hash
		return true, nil
	})
}

// SetGrant adds or replaces a folder grant for a user. The path is
// normalized; granting the root to a non-admin is rejected.
func (s *Store) SetGrant(name, rel string, mode Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	rel = sandbox.Normalize(rel)
	if rel == "" {
		return errors.New("cannot grant the root folder")
	}

	return s.Update(func(db *DB) (bool, error) {
		u, ok := db.Users[name]
		if !ok {
			return false, ErrUserNotFound
		}
		if u.Folders == nil {
			u.Folders = map[string]Mode{}
		}
		u.Folders[rel] = mode
		return true, nil
	})
}

// RemoveGrant deletes a folder grant from a user.
func (s *Store) RemoveGrant(name, rel string) error {
	rel = sandbox.Normalize(rel)
	return s.Update(func(db *DB) (bool, error) {
		u, ok := db.Users[name]
		if !ok {
			return false, ErrUserNotFound
		}
		if _, ok := u.Folders[rel]; !ok {
			return false, nil
		}
		delete(u.Folders, rel)
		return true, nil
	})
}

// Authenticate verifies a username/password pair and returns the principal
// for the user. Returns ErrInvalidCredentials on any mismatch so callers
// cannot distinguish unknown users from wrong passwords.
func (s *Store) Authenticate(name, password string) (Principal, error) {
	db, err := s.Load()
	if err != nil {
		return Principal{}, err
	}
	u, ok := db.Users[name]
	if !ok || !VerifyPassword(password, u.PasswordHash) {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Name: name, Admin: u.IsAdmin()}, nil
}

// normalizeGrants rewrites grant keys through the path normalizer, dropping
// degenerate entries that normalize to the root.
func normalizeGrants(grants map[string]Mode) map[string]Mode {
	if len(grants) == 0 {
		return nil
	}
	out := make(map[string]Mode, len(grants))
	for rel, mode := range grants {
		norm := sandbox.Normalize(rel)
		if norm == "" {
			continue
		}
		out[norm] = mode
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
