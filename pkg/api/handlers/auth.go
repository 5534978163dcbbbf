package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/api/auth"
	apimiddleware "github.com/marmos91/dropzone/pkg/api/middleware"
)

// AuthHandler handles authentication-related API endpoints.
type AuthHandler struct {
	store      *acl.Store
	jwtService *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(store *acl.Store, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{store: store, jwtService: jwtService}
}

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /api/v1/auth/login.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// RefreshRequest is the request body for POST /api/v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MeResponse is the response body for GET /api/v1/auth/me.
type MeResponse struct {
	Username string   `json:"username"`
	Role     string   `json:"role"`
	Folders  []string `json:"folders"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	p, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, acl.ErrInvalidCredentials) {
			Unauthorized(w, "Invalid username or password")
			return
		}
		InternalServerError(w, "Authentication failed")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(p.Name, roleOf(p))
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, LoginResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		ExpiresAt:    tokenPair.ExpiresAt,
		Username:     p.Name,
		Role:         roleOf(p),
	})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		BadRequest(w, "Refresh token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			Unauthorized(w, "Refresh token has expired")
			return
		}
		Unauthorized(w, "Invalid refresh token")
		return
	}

	// Re-read the user so a deleted account cannot refresh its way back in.
	db, err := h.store.Load()
	if err != nil {
		InternalServerError(w, "Failed to load user database")
		return
	}
	u, ok := db.Users[claims.Username]
	if !ok {
		Unauthorized(w, "User no longer exists")
		return
	}

	tokenPair, err := h.jwtService.GenerateTokenPair(claims.Username, string(u.Role))
	if err != nil {
		InternalServerError(w, "Failed to generate token")
		return
	}

	WriteJSONOK(w, tokenPair)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := apimiddleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	db, err := h.store.Load()
	if err != nil {
		InternalServerError(w, "Failed to load user database")
		return
	}
	u, ok := db.Users[claims.Username]
	if !ok {
		NotFound(w, "User not found")
		return
	}

	folders := make([]string, 0, len(u.Folders))
	for rel := range u.Folders {
		folders = append(folders, rel)
	}

	WriteJSONOK(w, MeResponse{
		Username: claims.Username,
		Role:     string(u.Role),
		Folders:  folders,
	})
}

func roleOf(p acl.Principal) string {
	if p.Admin {
		return string(acl.RoleAdmin)
	}
	return string(acl.RoleUser)
}
