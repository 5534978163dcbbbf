package acl

import "errors"

// Common errors for user database and access-control operations.
var (
	// User database errors.
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrLastUser      = errors.New("cannot delete the last remaining user")
	ErrDeleteAdmin   = errors.New("cannot delete an admin user")

	// Deserialization boundary errors.
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidMode = errors.New("invalid grant mode")

	// Access-control errors.
	ErrAccessDenied = errors.New("access denied")
	ErrWriteDenied  = errors.New("write access denied")
	ErrNoGrants     = errors.New("user has no folder grants")
)
