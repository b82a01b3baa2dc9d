package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/tenancy"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: conflict")
	ErrForbidden = errors.New("store: caller not permitted")
	ErrInvalid   = errors.New("store: invalid data")
)

// Store persists tenants, principal profiles, roles and role assignments.
//
// Every caller-scoped method re-checks the policy predicate for caller before
// touching data, in addition to whatever the call site already checked.
// The unscoped policy.Reader methods exist only to feed the policy engine.
type Store interface {
	policy.Reader

	// CreateTenant inserts a provisional tenant. Name uniqueness is enforced
	// atomically; the losing writer gets ErrConflict.
	CreateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error)
	GetTenant(ctx context.Context, caller, tenantID string) (tenancy.Tenant, error)
	ListTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error)
	// UpdateTenant changes name, contact email, type and settings only.
	UpdateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error)
	// SetTenantAdmin activates a tenant. The principal must be a tenant_admin
	// scoped to the tenant.
	SetTenantAdmin(ctx context.Context, caller, tenantID, principalID string) (tenancy.Tenant, error)
	// DeleteTenant removes the tenant with its profiles and role assignments.
	DeleteTenant(ctx context.Context, caller, tenantID string) error

	// UpsertProfile writes or merges profile fields keyed by principal ID.
	UpsertProfile(ctx context.Context, caller string, p tenancy.Principal) (tenancy.Principal, error)
	GetPrincipal(ctx context.Context, caller, principalID string) (tenancy.Principal, error)
	// ListPrincipals lists profiles of one tenant, or all profiles for nil.
	ListPrincipals(ctx context.Context, caller string, tenantID *string) ([]tenancy.Principal, error)

	ListRoles(ctx context.Context, caller string) ([]tenancy.Role, error)
	// AssignRole and RemoveRole are idempotent.
	AssignRole(ctx context.Context, caller, principalID, roleID string) error
	RemoveRole(ctx context.Context, caller, principalID, roleID string) error
	PrincipalRoles(ctx context.Context, caller, principalID string) ([]tenancy.Role, error)

	// SeedRoles inserts missing catalog entries by name. System use only.
	SeedRoles(ctx context.Context, roles []tenancy.Role) ([]tenancy.Role, error)
	// BootstrapSuperAdmin writes a super_admin profile and assigns Super Admin
	// without a caller. System use only.
	BootstrapSuperAdmin(ctx context.Context, p tenancy.Principal) error
}

// RoleByName resolves a role from a catalog by exact name.
func RoleByName(catalog []tenancy.Role, name string) (tenancy.Role, bool) {
	for _, r := range catalog {
		if r.Name == name {
			return r, true
		}
	}
	return tenancy.Role{}, false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// The guards below are the store-side restatement of the policy predicates.
// They evaluate policy.Subject methods only, never their own rules.

func guardCreateTenant(s policy.Subject) error {
	if !s.SuperAdmin() {
		return ErrForbidden
	}
	return nil
}

func guardUpdateTenant(s policy.Subject, tenantID string) error {
	if s.SuperAdmin() || s.TenantAdmin(tenantID) {
		return nil
	}
	return ErrForbidden
}

func guardReadPrincipal(s policy.Subject, target tenancy.Principal) error {
	if s.ID == target.ID || s.CanAccessClient(target.ClientID) {
		return nil
	}
	return ErrForbidden
}

// guardWriteProfile requires access to the new tenant scope and, for an
// existing profile, to the old one. Non-super-admins cannot raise a level.
func guardWriteProfile(s policy.Subject, next tenancy.Principal, prev *tenancy.Principal) error {
	if !s.CanAccessClient(next.ClientID) {
		return ErrForbidden
	}
	if prev != nil && s.ID != prev.ID && !s.CanAccessClient(prev.ClientID) {
		return ErrForbidden
	}
	if !s.SuperAdmin() && next.Level != tenancy.LevelUser {
		if prev == nil || prev.Level != next.Level {
			return ErrForbidden
		}
	}
	return nil
}

// guardActiveAdmin keeps an activated tenant's admin at tenant_admin level
// inside that tenant. adminOf lists the tenants naming prev as AdminUserID.
func guardActiveAdmin(next tenancy.Principal, prev *tenancy.Principal, adminOf []string) error {
	if prev == nil || len(adminOf) == 0 {
		return nil
	}
	for _, tenantID := range adminOf {
		if next.Level != tenancy.LevelTenantAdmin || !next.BelongsTo(tenantID) {
			return fmt.Errorf("%w: principal is the admin of tenant %s", ErrConflict, tenantID)
		}
	}
	return nil
}

func guardRoleChange(s policy.Subject, target tenancy.Principal, role tenancy.Role) error {
	if !s.CanAccessClient(target.ClientID) {
		return ErrForbidden
	}
	if !policy.Assignable(s.SuperAdmin(), role) {
		return ErrForbidden
	}
	return nil
}

func validateProfile(p tenancy.Principal) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Email) == "" {
		return ErrInvalid
	}
	if !p.Level.Valid() {
		return ErrInvalid
	}
	// client_id is null only for the super admin class.
	if (p.Level == tenancy.LevelSuperAdmin) != (p.ClientID == nil) {
		return ErrInvalid
	}
	return nil
}

func validateTenant(t tenancy.Tenant) error {
	if strings.TrimSpace(t.Name) == "" || !t.Type.Valid() {
		return ErrInvalid
	}
	return nil
}

func validateActivation(t tenancy.Tenant, p tenancy.Principal) error {
	if p.Level != tenancy.LevelTenantAdmin || !p.BelongsTo(t.ID) {
		return ErrInvalid
	}
	return nil
}

// AppError translates a store error into the caller-facing taxonomy.
// Anything unrecognized counts as the store being unavailable.
func AppError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForbidden):
		return apperr.Forbidden("not permitted for this tenant")
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(err.Error())
	case errors.Is(err, ErrConflict):
		return apperr.Conflict(err.Error(), err)
	case errors.Is(err, ErrInvalid):
		return apperr.Validation(err.Error())
	default:
		return apperr.Unavailable("tenant store", err)
	}
}
