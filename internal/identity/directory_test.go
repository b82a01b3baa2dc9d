package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"tenant-platform/internal/auth"
	"tenant-platform/internal/config"

	"golang.org/x/crypto/bcrypt"
)

func newDirectory(t *testing.T) (*MemoryDirectory, *auth.Manager) {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return NewMemoryDirectory(m, bcrypt.MinCost), m
}

func TestCreatePrincipal_DuplicateEmailCarriesExistingID(t *testing.T) {
	d, _ := newDirectory(t)
	ctx := context.Background()

	id, err := d.CreatePrincipal(ctx, "admin@acme.test", "Correct-Horse-9", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = d.CreatePrincipal(ctx, "  ADMIN@acme.test ", "Another-Pass-1", nil)
	var dup *DuplicateEmailError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateEmailError, got %v", err)
	}
	if dup.ExistingID != id {
		t.Fatalf("expected existing id %s, got %s", id, dup.ExistingID)
	}
	if d.Count() != 1 {
		t.Fatalf("duplicate must not create a second identity")
	}
}

func TestAuthenticate_AndSetPassword(t *testing.T) {
	d, _ := newDirectory(t)
	ctx := context.Background()
	id, _ := d.CreatePrincipal(ctx, "u@acme.test", "First-Pass-123", nil)

	if got, err := d.Authenticate(ctx, "u@acme.test", "First-Pass-123"); err != nil || got != id {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := d.Authenticate(ctx, "u@acme.test", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := d.SetPassword(ctx, id, "Second-Pass-456"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := d.Authenticate(ctx, "u@acme.test", "First-Pass-123"); err == nil {
		t.Fatalf("old password must stop working")
	}
	if err := d.SetPassword(ctx, "missing", "x"); !errors.Is(err, ErrUnknownPrincipal) {
		t.Fatalf("expected ErrUnknownPrincipal, got %v", err)
	}
}

func TestCallerIdentity(t *testing.T) {
	d, m := newDirectory(t)
	ctx := context.Background()
	id, _ := d.CreatePrincipal(ctx, "u@acme.test", "First-Pass-123", nil)

	pair, _ := m.IssuePair(time.Now(), id)
	if got, err := d.CallerIdentity(ctx, pair.AccessToken); err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := d.CallerIdentity(ctx, "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	ghost, _ := m.IssuePair(time.Now(), "no-such-identity")
	if _, err := d.CallerIdentity(ctx, ghost.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("token for unknown identity must be rejected, got %v", err)
	}
}
