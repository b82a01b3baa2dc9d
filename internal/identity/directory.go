package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenant-platform/internal/auth"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated    = auth.ErrUnauthenticated
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUnknownPrincipal   = errors.New("identity: unknown principal")
)

// DuplicateEmailError reports that an identity with the email already exists.
// ExistingID lets a resumed workflow reuse it instead of creating another.
type DuplicateEmailError struct {
	Email      string
	ExistingID string
}

func (e *DuplicateEmailError) Error() string {
	return fmt.Sprintf("identity: email %q already registered", e.Email)
}

// Directory creates login identities and resolves the caller of a request.
type Directory interface {
	// CreatePrincipal returns the new principal ID, or *DuplicateEmailError.
	CreatePrincipal(ctx context.Context, email, password string, metadata map[string]string) (string, error)
	// CallerIdentity maps a bearer token to a principal ID, or ErrUnauthenticated.
	CallerIdentity(ctx context.Context, token string) (string, error)
}

// PasswordSetter replaces the password of an existing identity.
type PasswordSetter interface {
	SetPassword(ctx context.Context, principalID, password string) error
}

// Authenticator checks an email/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

// TokenVerifier is satisfied by *auth.Manager.
type TokenVerifier interface {
	Verify(token string, expected auth.TokenType, now time.Time) (auth.Claims, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string, cost int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("identity: empty password")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func checkPassword(hash []byte, password string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func verifyToken(tokens TokenVerifier, token string) (string, error) {
	if tokens == nil || token == "" {
		return "", ErrUnauthenticated
	}
	claims, err := tokens.Verify(token, auth.TokenTypeAccess, time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims.PrincipalID, nil
}
