// Package admin holds the caller-facing operations. Each takes the caller's
// principal ID explicitly, authorizes through the policy engine, and returns
// a payload or an *apperr.Error.
package admin

import (
	"context"
	"strings"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"

	"github.com/go-playground/validator/v10"
)

// Policy is the set of predicates the operations gate on.
type Policy interface {
	provisioning.Authorizer
	IsTenantAdmin(ctx context.Context, principalID, tenantID string) (bool, error)
	AssignableRoles(ctx context.Context, principalID string) ([]tenancy.Role, error)
}

// AuditLog is satisfied by *audit.Service.
type AuditLog interface {
	provisioning.Recorder
	ListFor(ctx context.Context, caller string, tenantID *string) ([]audit.Record, error)
}

type Service struct {
	policy   Policy
	store    store.Store
	audit    AuditLog
	workflow *provisioning.Workflow
	validate *validator.Validate
}

func NewService(p Policy, st store.Store, log AuditLog, wf *provisioning.Workflow) *Service {
	return &Service{
		policy:   p,
		store:    st,
		audit:    log,
		workflow: wf,
		validate: validator.New(),
	}
}

func (s *Service) CreateTenant(ctx context.Context, caller string, req provisioning.CreateTenantRequest) (*provisioning.TenantResult, error) {
	return s.workflow.CreateTenantWithAdmin(ctx, caller, req)
}

func (s *Service) CreateUser(ctx context.Context, caller string, req provisioning.CreateUserRequest) (*provisioning.UserResult, error) {
	return s.workflow.CreateUser(ctx, caller, req)
}

func (s *Service) DiscardTenant(ctx context.Context, caller, tenantID string) error {
	return s.workflow.DiscardTenant(ctx, caller, tenantID)
}

// ProvisionalTenants lists tenants left inactive by an interrupted provisioning.
func (s *Service) ProvisionalTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error) {
	return s.workflow.ProvisionalTenants(ctx, caller)
}

func (s *Service) ListTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	out, err := s.store.ListTenants(ctx, caller)
	return out, store.AppError(err)
}

func (s *Service) GetTenant(ctx context.Context, caller, tenantID string) (tenancy.Tenant, error) {
	if err := s.requireAccess(ctx, caller, &tenantID); err != nil {
		return tenancy.Tenant{}, err
	}
	t, err := s.store.GetTenant(ctx, caller, tenantID)
	return t, store.AppError(err)
}

// TenantUpdate changes only the fields that are set.
type TenantUpdate struct {
	Name         *string             `json:"name" validate:"omitempty,min=1,max=200"`
	ContactEmail *string             `json:"contact_email" validate:"omitempty,email"`
	Type         *tenancy.TenantType `json:"tenant_type"`
	Settings     map[string]string   `json:"settings"`
}

// UpdateTenant is open to super admins and to the tenant's own admins.
func (s *Service) UpdateTenant(ctx context.Context, caller, tenantID string, upd TenantUpdate) (tenancy.Tenant, error) {
	if caller == "" {
		return tenancy.Tenant{}, apperr.Unauthorized("caller identity required")
	}
	isSuper, err := s.policy.IsSuperAdmin(ctx, caller)
	if err != nil {
		return tenancy.Tenant{}, apperr.Unavailable("policy engine", err)
	}
	if !isSuper {
		ok, err := s.policy.IsTenantAdmin(ctx, caller, tenantID)
		if err != nil {
			return tenancy.Tenant{}, apperr.Unavailable("policy engine", err)
		}
		if !ok {
			return tenancy.Tenant{}, apperr.Forbidden("tenant admin required")
		}
	}
	if err := s.validate.Struct(upd); err != nil {
		return tenancy.Tenant{}, apperr.Validation(err.Error())
	}

	cur, err := s.store.GetTenant(ctx, caller, tenantID)
	if err != nil {
		return tenancy.Tenant{}, store.AppError(err)
	}
	changed := map[string]any{}
	if upd.Name != nil {
		cur.Name = strings.TrimSpace(*upd.Name)
		changed["name"] = cur.Name
	}
	if upd.ContactEmail != nil {
		cur.ContactEmail = *upd.ContactEmail
		changed["contact_email"] = cur.ContactEmail
	}
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return tenancy.Tenant{}, apperr.Validation("tenant_type must be regular or msp_tenant")
		}
		cur.Type = *upd.Type
		changed["tenant_type"] = string(cur.Type)
	}
	if upd.Settings != nil {
		cur.Settings = upd.Settings
		changed["settings"] = upd.Settings
	}

	out, err := s.store.UpdateTenant(ctx, caller, cur)
	if err != nil {
		return tenancy.Tenant{}, store.AppError(err)
	}
	if _, err := s.audit.Record(ctx, &tenantID, caller, audit.ActionTenantUpdated, changed); err != nil {
		return out, err
	}
	return out, nil
}

// ListUsers lists one tenant's principals, or every principal for nil.
func (s *Service) ListUsers(ctx context.Context, caller string, tenantID *string) ([]tenancy.Principal, error) {
	if err := s.requireAccess(ctx, caller, tenantID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPrincipals(ctx, caller, tenantID)
	return out, store.AppError(err)
}

// RoleView is a catalog entry with whether the caller may grant it.
type RoleView struct {
	tenancy.Role
	Assignable bool `json:"assignable"`
}

func (s *Service) ListRoles(ctx context.Context, caller string) ([]RoleView, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	catalog, err := s.store.ListRoles(ctx, caller)
	if err != nil {
		return nil, store.AppError(err)
	}
	assignable, err := s.policy.AssignableRoles(ctx, caller)
	if err != nil {
		return nil, apperr.Unavailable("policy engine", err)
	}
	ok := make(map[string]bool, len(assignable))
	for _, r := range assignable {
		ok[r.ID] = true
	}
	out := make([]RoleView, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, RoleView{Role: r, Assignable: ok[r.ID]})
	}
	return out, nil
}

// GetUser returns one principal profile. Callers may always read their own.
func (s *Service) GetUser(ctx context.Context, caller, principalID string) (tenancy.Principal, error) {
	if caller == "" {
		return tenancy.Principal{}, apperr.Unauthorized("caller identity required")
	}
	out, err := s.store.GetPrincipal(ctx, caller, principalID)
	return out, store.AppError(err)
}

func (s *Service) PrincipalRoles(ctx context.Context, caller, principalID string) ([]tenancy.Role, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	out, err := s.store.PrincipalRoles(ctx, caller, principalID)
	return out, store.AppError(err)
}

func (s *Service) AssignRole(ctx context.Context, caller, principalID, roleID string) error {
	return s.changeRole(ctx, caller, principalID, roleID, true)
}

func (s *Service) RemoveRole(ctx context.Context, caller, principalID, roleID string) error {
	return s.changeRole(ctx, caller, principalID, roleID, false)
}

// changeRole requires access to the target's tenant, manage_users or
// manage_roles unless the caller is a super admin, and a role the caller
// may grant. Both directions are idempotent.
func (s *Service) changeRole(ctx context.Context, caller, principalID, roleID string, assign bool) error {
	if caller == "" {
		return apperr.Unauthorized("caller identity required")
	}
	target, err := s.store.GetPrincipal(ctx, caller, principalID)
	if err != nil {
		return store.AppError(err)
	}
	if err := s.requireAccess(ctx, caller, target.ClientID); err != nil {
		return err
	}
	isSuper, err := s.policy.IsSuperAdmin(ctx, caller)
	if err != nil {
		return apperr.Unavailable("policy engine", err)
	}
	if !isSuper {
		if err := s.requireRoleManagement(ctx, caller); err != nil {
			return err
		}
	}

	assignable, err := s.policy.AssignableRoles(ctx, caller)
	if err != nil {
		return apperr.Unavailable("policy engine", err)
	}
	role, ok := findRole(assignable, roleID)
	if !ok {
		catalog, err := s.store.RoleCatalog(ctx)
		if err != nil {
			return apperr.Unavailable("tenant store", err)
		}
		if _, exists := findRole(catalog, roleID); exists {
			return apperr.Forbidden("role can only be managed by a super admin")
		}
		return apperr.NotFound("role not found")
	}

	action := audit.ActionRoleAssigned
	if assign {
		err = s.store.AssignRole(ctx, caller, principalID, roleID)
	} else {
		action = audit.ActionRoleRemoved
		err = s.store.RemoveRole(ctx, caller, principalID, roleID)
	}
	if err != nil {
		return store.AppError(err)
	}
	_, err = s.audit.Record(ctx, target.ClientID, caller, action, map[string]any{
		"principal_id": principalID,
		"role_id":      role.ID,
		"role_name":    role.Name,
	})
	return err
}

// ProfileUpdate changes only the fields that are set. Tenant membership and
// level are not changeable here.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=200"`
	Email       *string `json:"email" validate:"omitempty,email"`
}

// UpdateProfile is open to the principal itself, to super admins, and to
// members of the principal's tenant holding manage_users.
func (s *Service) UpdateProfile(ctx context.Context, caller, principalID string, upd ProfileUpdate) (tenancy.Principal, error) {
	if caller == "" {
		return tenancy.Principal{}, apperr.Unauthorized("caller identity required")
	}
	if err := s.validate.Struct(upd); err != nil {
		return tenancy.Principal{}, apperr.Validation(err.Error())
	}
	cur, err := s.store.GetPrincipal(ctx, caller, principalID)
	if err != nil {
		return tenancy.Principal{}, store.AppError(err)
	}
	if caller != principalID {
		if err := s.requireAccess(ctx, caller, cur.ClientID); err != nil {
			return tenancy.Principal{}, err
		}
		isSuper, err := s.policy.IsSuperAdmin(ctx, caller)
		if err != nil {
			return tenancy.Principal{}, apperr.Unavailable("policy engine", err)
		}
		if !isSuper {
			ok, err := s.policy.HasPermission(ctx, caller, tenancy.PermManageUsers)
			if err != nil {
				return tenancy.Principal{}, apperr.Unavailable("policy engine", err)
			}
			if !ok {
				return tenancy.Principal{}, apperr.Forbidden("manage_users permission required")
			}
		}
	}

	changed := map[string]any{"principal_id": principalID}
	if upd.DisplayName != nil {
		cur.DisplayName = *upd.DisplayName
		changed["display_name"] = cur.DisplayName
	}
	if upd.Email != nil {
		cur.Email = strings.TrimSpace(*upd.Email)
		changed["email"] = cur.Email
	}
	out, err := s.store.UpsertProfile(ctx, caller, cur)
	if err != nil {
		return tenancy.Principal{}, store.AppError(err)
	}
	if _, err := s.audit.Record(ctx, cur.ClientID, caller, audit.ActionProfileUpdated, changed); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Service) ListAudit(ctx context.Context, caller string, tenantID *string) ([]audit.Record, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	return s.audit.ListFor(ctx, caller, tenantID)
}

func (s *Service) requireAccess(ctx context.Context, caller string, tenantID *string) error {
	if caller == "" {
		return apperr.Unauthorized("caller identity required")
	}
	ok, err := s.policy.CanAccessClient(ctx, caller, tenantID)
	if err != nil {
		return apperr.Unavailable("policy engine", err)
	}
	if !ok {
		return apperr.Forbidden("not permitted for this tenant")
	}
	return nil
}

func (s *Service) requireRoleManagement(ctx context.Context, caller string) error {
	for _, perm := range []tenancy.Permission{tenancy.PermManageUsers, tenancy.PermManageRoles} {
		ok, err := s.policy.HasPermission(ctx, caller, perm)
		if err != nil {
			return apperr.Unavailable("policy engine", err)
		}
		if ok {
			return nil
		}
	}
	return apperr.Forbidden("manage_users or manage_roles permission required")
}

func findRole(roles []tenancy.Role, id string) (tenancy.Role, bool) {
	for _, r := range roles {
		if r.ID == id {
			return r, true
		}
	}
	return tenancy.Role{}, false
}
