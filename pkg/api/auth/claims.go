// Package auth provides JWT authentication for the dropzone API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes the two halves of a token pair. The type is
// embedded in the claims so a refresh token can never be replayed as a
// bearer credential.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT payload carried by both token types.
type Claims struct {
	jwt.RegisteredClaims

	Username  string    `json:"username"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c *Claims) IsAccessToken() bool {
	return c.TokenType == TokenTypeAccess
}

func (c *Claims) IsRefreshToken() bool {
	return c.TokenType == TokenTypeRefresh
}

// IsAdmin reports whether the token was issued for an admin user.
func (c *Claims) IsAdmin() bool {
	return c.Role == "admin"
}
