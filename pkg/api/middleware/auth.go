// Package middleware provides HTTP middleware for the dropzone API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/api/auth"
)

// Context key type for storing claims
type contextKey string

const (
	claimsContextKey    contextKey = "claims"
	principalContextKey contextKey = "principal"
)

// GetClaimsFromContext retrieves JWT claims from the request context.
// Returns nil if no claims are present. Only meaningful after the JWTAuth
// middleware has run.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// PrincipalFromContext retrieves the access-control principal stored by
// JWTAuth or AnonymousPrincipal. Returns acl.Anonymous when absent.
func PrincipalFromContext(ctx context.Context) acl.Principal {
	p, ok := ctx.Value(principalContextKey).(acl.Principal)
	if !ok {
		return acl.Anonymous
	}
	return p
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// JWTAuth validates Bearer tokens in the Authorization header. Valid claims
// and the derived principal are stored in the request context; invalid or
// missing tokens get 401.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, principalContextKey, acl.Principal{
				Name:  claims.Username,
				Admin: claims.IsAdmin(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AnonymousPrincipal injects the anonymous principal for deployments
// running with authentication disabled. The access resolver grants it the
// whole tree in that mode.
func AnonymousPrincipal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), principalContextKey, acl.Anonymous)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin blocks non-admin principals. When authentication is
// disabled, every caller passes.
func RequireAdmin(authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				next.ServeHTTP(w, r)
				return
			}

			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !claims.IsAdmin() {
				http.Error(w, "Admin access required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
