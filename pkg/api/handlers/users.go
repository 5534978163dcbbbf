package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dropzone/pkg/acl"
)

// UserHandler handles user and grant management endpoints (admin only).
type UserHandler struct {
	store    *acl.Store
	resolver *acl.Resolver
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *acl.Store, resolver *acl.Resolver) *UserHandler {
	return &UserHandler{store: store, resolver: resolver}
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserInfo is the sanitized user representation for API responses.
type UserInfo struct {
	Username string              `json:"username"`
	Role     string              `json:"role"`
	Folders  map[string]acl.Mode `json:"folders,omitempty"`
}

// SetPasswordRequest is the request body for POST /api/v1/users/{username}/password.
type SetPasswordRequest struct {
	Password string `json:"password"`
}

// GrantRequest is the request body for PUT /api/v1/users/{username}/grants.
type GrantRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	role := acl.Role(req.Role)
	if req.Role == "" {
		role = acl.RoleUser
	}

	err := h.store.AddUser(req.Username, req.Password, role)
	switch {
	case err == nil:
		WriteJSONCreated(w, UserInfo{Username: req.Username, Role: string(role)})
	case errors.Is(err, acl.ErrDuplicateUser):
		Conflict(w, "User already exists")
	case errors.Is(err, acl.ErrInvalidRole):
		BadRequest(w, "Role must be user or admin")
	case errors.Is(err, acl.ErrPasswordTooShort), errors.Is(err, acl.ErrPasswordTooLong):
		BadRequest(w, err.Error())
	default:
		InternalServerError(w, "Failed to create user")
	}
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	db, err := h.store.Load()
	if err != nil {
		InternalServerError(w, "Failed to load user database")
		return
	}

	users := make([]UserInfo, 0, len(db.Users))
	for name, u := range db.Users {
		users = append(users, UserInfo{
			Username: name,
			Role:     string(u.Role),
			Folders:  u.Folders,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	WriteJSONOK(w, users)
}

// Delete handles DELETE /api/v1/users/{username}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "username")

	err := h.store.DeleteUser(name)
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.Is(err, acl.ErrUserNotFound):
		NotFound(w, "User not found")
	case errors.Is(err, acl.ErrDeleteAdmin):
		Forbidden(w, "Admin users cannot be deleted")
	case errors.Is(err, acl.ErrLastUser):
		Forbidden(w, "The last user cannot be deleted")
	default:
		InternalServerError(w, "Failed to delete user")
	}
}

// SetPassword handles POST /api/v1/users/{username}/password.
func (h *UserHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "username")
	var req SetPasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	err := h.store.SetPassword(name, req.Password)
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.Is(err, acl.ErrUserNotFound):
		NotFound(w, "User not found")
	case errors.Is(err, acl.ErrPasswordTooShort), errors.Is(err, acl.ErrPasswordTooLong):
		BadRequest(w, err.Error())
	default:
		InternalServerError(w, "Failed to set password")
	}
}

// SetGrant handles PUT /api/v1/users/{username}/grants.
func (h *UserHandler) SetGrant(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "username")
	var req GrantRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	err := h.store.SetGrant(name, req.Path, acl.Mode(req.Mode))
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.Is(err, acl.ErrUserNotFound):
		NotFound(w, "User not found")
	case errors.Is(err, acl.ErrInvalidMode):
		BadRequest(w, "Mode must be read or write")
	default:
		BadRequest(w, err.Error())
	}
}

// RemoveGrant handles DELETE /api/v1/users/{username}/grants.
func (h *UserHandler) RemoveGrant(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "username")
	var req GrantRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	err := h.store.RemoveGrant(name, req.Path)
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.Is(err, acl.ErrUserNotFound):
		NotFound(w, "User not found")
	default:
		InternalServerError(w, "Failed to remove grant")
	}
}

// CleanupGrants handles POST /api/v1/users/cleanup-grants. It removes
// grants whose target directory no longer exists and reports what was
// removed per user.
func (h *UserHandler) CleanupGrants(w http.ResponseWriter, r *http.Request) {
	removed, err := h.resolver.CleanupDeadGrants()
	if err != nil {
		InternalServerError(w, "Failed to clean up grants")
		return
	}
	WriteJSONOK(w, map[string]any{"removed": removed})
}
