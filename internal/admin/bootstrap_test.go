package admin

import (
	"context"
	"testing"

	"tenant-platform/internal/identity"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"

	"golang.org/x/crypto/bcrypt"
)

func TestBootstrap_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	dir := identity.NewMemoryDirectory(nil, bcrypt.MinCost)

	first, err := Bootstrap(ctx, mem, dir, "root@platform.test", "Root-Passw0rd-Long")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if first.ReusedAccount || first.CatalogSize != len(tenancy.DefaultRoles()) {
		t.Fatalf("unexpected first result %+v", first)
	}

	again, err := Bootstrap(ctx, mem, dir, "ROOT@platform.test", "Other-Passw0rd-Long")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if !again.ReusedAccount || again.PrincipalID != first.PrincipalID {
		t.Fatalf("expected reuse of %s, got %+v", first.PrincipalID, again)
	}
	if dir.Count() != 1 {
		t.Fatalf("expected one identity, got %d", dir.Count())
	}
	if _, err := dir.Authenticate(ctx, "root@platform.test", "Root-Passw0rd-Long"); err != nil {
		t.Fatalf("original password must survive a rerun: %v", err)
	}

	ok, err := policy.NewEngine(mem).IsSuperAdmin(ctx, first.PrincipalID)
	if err != nil || !ok {
		t.Fatalf("expected super admin, got %v %v", ok, err)
	}
}

func TestBootstrap_RejectsWeakPassword(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	dir := identity.NewMemoryDirectory(nil, bcrypt.MinCost)

	if _, err := Bootstrap(ctx, mem, dir, "root@platform.test", "short"); err == nil {
		t.Fatalf("expected weak password error")
	}
	if dir.Count() != 0 {
		t.Fatalf("nothing should be created")
	}
}
