// Package acl provides the user database and the access-control resolver
// that maps a principal to the set of folders it may read or write.
//
// The user database is a single JSON document on disk; folder grants are a
// map from normalized root-relative paths to an access mode. Admin users
// implicitly own the whole tree and bypass every check.
package acl

import (
	"fmt"
	"time"
)

// Role is the role of a user in the system.
type Role string

const (
	// RoleUser is a regular user whose access is bounded by folder grants.
	RoleUser Role = "user"
	// RoleAdmin is an administrator with full access to the whole tree.
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is a known Role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Mode is the access mode of a folder grant.
type Mode string

const (
	// ModeRead allows listing and downloading below the granted folder.
	ModeRead Mode = "read"
	// ModeWrite allows mutations (upload, mkdir, rename, delete) below the
	// granted folder, in addition to read access.
	ModeWrite Mode = "write"
)

// IsValid checks if the mode is a known Mode.
func (m Mode) IsValid() bool {
	return m == ModeRead || m == ModeWrite
}

// User is one entry in the user database.
//
// Folders maps normalized root-relative paths to the granted mode. The map
// is only meaningful for RoleUser; admins own the root implicitly.
type User struct {
	PasswordHash string          `json:"passwordHash"`
	Role         Role            `json:"role"`
	Folders      map[string]Mode `json:"folders,omitempty"`
	CreatedAt    time.Time       `json:"createdAt,omitzero"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Validate checks role and grant modes against the closed enums. It is
// applied at the deserialization boundary so invalid values never reach
// call sites.
func (u *User) Validate() error {
	if !u.Role.IsValid() {
		return fmt.Errorf("%w: role %q", ErrInvalidRole, u.Role)
	}
	for rel, mode := range u.Folders {
		if !mode.IsValid() {
			return fmt.Errorf("%w: folder %q has mode %q", ErrInvalidMode, rel, mode)
		}
	}
	return nil
}

// DB is the persisted user database document.
type DB struct {
	Users map[string]*User `json:"users"`
}

// Principal identifies the caller of an access-controlled operation.
//
// The zero value is an anonymous principal; whether that grants full access
// or none depends on the resolver's auth-enabled setting.
type Principal struct {
	// Name is the authenticated username, empty for anonymous callers.
	Name string

	// Admin is true for callers with the admin role.
	Admin bool
}

// Anonymous is the principal used when no authentication is present.
var Anonymous = Principal{}
