package policy

import (
	"context"
	"fmt"
	"log/slog"

	"tenant-platform/internal/tenancy"
)

// Reader is the read side of the tenant/user store the engine evaluates
// against. Every call must reflect the latest committed state.
type Reader interface {
	// LookupPrincipal returns (Principal{}, false, nil) when no profile exists.
	LookupPrincipal(ctx context.Context, principalID string) (tenancy.Principal, bool, error)
	HeldRoles(ctx context.Context, principalID string) ([]tenancy.Role, error)
	RoleCatalog(ctx context.Context) ([]tenancy.Role, error)
}

// Observer receives one call per decision. Implementations must be cheap.
type Observer interface {
	ObserveDecision(predicate string, allowed bool)
}

// Engine answers "can principal P act on tenant T". It holds no decision
// state between calls; each predicate re-reads the store.
type Engine struct {
	reader   Reader
	logger   *slog.Logger
	observer Observer
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

func NewEngine(r Reader, opts ...Option) *Engine {
	e := &Engine{reader: r}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Subject is a point-in-time read of one principal's profile and roles.
// All predicates are defined on Subject so the engine and the stores'
// defensive checks share one implementation.
type Subject struct {
	ID        string
	Principal tenancy.Principal
	Found     bool
	Roles     []tenancy.Role
}

// Load reads the subject for principalID. An unknown principal yields a
// subject that satisfies no predicate.
func (e *Engine) Load(ctx context.Context, principalID string) (Subject, error) {
	s := Subject{ID: principalID}
	if principalID == "" {
		return s, nil
	}
	p, ok, err := e.reader.LookupPrincipal(ctx, principalID)
	if err != nil {
		return Subject{}, fmt.Errorf("policy: load principal: %w", err)
	}
	roles, err := e.reader.HeldRoles(ctx, principalID)
	if err != nil {
		return Subject{}, fmt.Errorf("policy: load roles: %w", err)
	}
	s.Principal, s.Found, s.Roles = p, ok, roles
	return s, nil
}

func (s Subject) holds(roleName string) bool {
	for _, r := range s.Roles {
		if r.Name == roleName {
			return true
		}
	}
	return false
}

// SuperAdmin holds a Super Admin role assignment.
func (s Subject) SuperAdmin() bool { return s.ID != "" && s.holds(tenancy.RoleSuperAdmin) }

// TenantAdmin is scoped to tenantID and holds the Tenant Admin role.
func (s Subject) TenantAdmin(tenantID string) bool {
	return s.Found && s.Principal.BelongsTo(tenantID) && s.holds(tenancy.RoleTenantAdmin)
}

// CanAccessClient is true for super admins, or when the profile is scoped to
// tenantID. A nil tenant is reachable by super admins only.
func (s Subject) CanAccessClient(tenantID *string) bool {
	if s.SuperAdmin() {
		return true
	}
	if tenantID == nil {
		return false
	}
	return s.Found && s.Principal.BelongsTo(*tenantID)
}

// Permissions is the union of the held roles' permission sets.
func (s Subject) Permissions() tenancy.PermissionSet {
	var out tenancy.PermissionSet
	for _, r := range s.Roles {
		out = out.Union(r.Permissions)
	}
	return out
}

// Assignable reports whether a caller may grant role. Only super admins may
// grant roles conferring more than user level.
func Assignable(callerIsSuperAdmin bool, role tenancy.Role) bool {
	return callerIsSuperAdmin || role.Level == tenancy.LevelUser
}

// FilterAssignable applies Assignable to a catalog.
func FilterAssignable(callerIsSuperAdmin bool, catalog []tenancy.Role) []tenancy.Role {
	out := make([]tenancy.Role, 0, len(catalog))
	for _, r := range catalog {
		if Assignable(callerIsSuperAdmin, r) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) IsSuperAdmin(ctx context.Context, principalID string) (bool, error) {
	s, err := e.Load(ctx, principalID)
	if err != nil {
		return false, err
	}
	return e.decide(ctx, "is_super_admin", principalID, "", s.SuperAdmin()), nil
}

func (e *Engine) IsTenantAdmin(ctx context.Context, principalID, tenantID string) (bool, error) {
	s, err := e.Load(ctx, principalID)
	if err != nil {
		return false, err
	}
	return e.decide(ctx, "is_tenant_admin", principalID, tenantID, s.TenantAdmin(tenantID)), nil
}

func (e *Engine) CanAccessClient(ctx context.Context, principalID string, tenantID *string) (bool, error) {
	s, err := e.Load(ctx, principalID)
	if err != nil {
		return false, err
	}
	return e.decide(ctx, "can_access_client", principalID, tenancy.Deref(tenantID), s.CanAccessClient(tenantID)), nil
}

func (e *Engine) HasPermission(ctx context.Context, principalID string, perm tenancy.Permission) (bool, error) {
	s, err := e.Load(ctx, principalID)
	if err != nil {
		return false, err
	}
	return e.decide(ctx, "has_permission", principalID, "", s.Permissions().Has(perm)), nil
}

// AssignableRoles returns the full catalog for super admins and the
// user-level subset for everyone else.
func (e *Engine) AssignableRoles(ctx context.Context, principalID string) ([]tenancy.Role, error) {
	s, err := e.Load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	catalog, err := e.reader.RoleCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: load catalog: %w", err)
	}
	return FilterAssignable(s.SuperAdmin(), catalog), nil
}

func (e *Engine) decide(ctx context.Context, predicate, principalID, tenantID string, allowed bool) bool {
	if e.observer != nil {
		e.observer.ObserveDecision(predicate, allowed)
	}
	e.logger.DebugContext(ctx, "policy decision",
		"predicate", predicate,
		"principal_id", principalID,
		"tenant_id", tenantID,
		"allowed", allowed,
	)
	return allowed
}
