package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry the principal ID only. Roles and tenant membership are never
// trusted from a token; they are re-read by the policy engine on every call.
type Claims struct {
	jwt.RegisteredClaims

	PrincipalID string    `json:"principal_id"`
	TokenType   TokenType `json:"token_type"`
}
