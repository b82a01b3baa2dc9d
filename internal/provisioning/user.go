package provisioning

import (
	"context"
	"fmt"
	"strings"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"
)

// CreateUserRequest is the input of CreateUser. Level defaults to user. An
// empty Password asks for a generated one.
type CreateUserRequest struct {
	Email       string              `json:"email" validate:"required,email"`
	DisplayName string              `json:"display_name" validate:"max=200"`
	TenantID    *string             `json:"tenant_id"`
	Level       tenancy.TenantLevel `json:"tenant_level"`
	RoleNames   []string            `json:"role_names" validate:"dive,required"`
	Password    string              `json:"password"`
}

type UserResult struct {
	Principal         tenancy.Principal `json:"principal"`
	Roles             []tenancy.Role    `json:"roles"`
	Password          string            `json:"password,omitempty"`
	PasswordGenerated bool              `json:"password_generated"`
	Resumed           bool              `json:"resumed"`
}

func (w *Workflow) CreateUser(ctx context.Context, caller string, req CreateUserRequest) (*UserResult, error) {
	r := w.newRun(workflowCreateUser, caller)
	req.Email = strings.TrimSpace(req.Email)
	if req.Level == "" {
		req.Level = tenancy.LevelUser
	}
	r.tenantID = tenancy.Deref(req.TenantID)

	// 1. Authorize, validate, and resolve role names. No side effects.
	var roles []tenancy.Role
	if err := r.step(ctx, StepAuthorize, func(ctx context.Context) error {
		var err error
		roles, err = w.authorizeCreateUser(ctx, caller, req)
		return err
	}); err != nil {
		return nil, err
	}
	res := &UserResult{Roles: roles}

	// 2. Password.
	var password string
	if err := r.step(ctx, StepResolvePassword, func(context.Context) error {
		var err error
		password, res.PasswordGenerated, err = w.resolvePassword(req.Password)
		return err
	}); err != nil {
		return nil, apperr.Internal("password generation failed", err)
	}

	// 3. Identity. A duplicate email resumes only an identity with no profile.
	var reset bool
	if err := r.step(ctx, StepCreateIdentity, func(ctx context.Context) error {
		id, resumed, pwReset, err := w.createOrReuseIdentity(ctx, req.Email, password, "", map[string]string{
			"display_name": req.DisplayName,
			"tenant_id":    tenancy.Deref(req.TenantID),
		})
		if err != nil {
			return err
		}
		r.principalID, reset, res.Resumed = id, pwReset, resumed
		return nil
	}); err != nil {
		return nil, r.partial(StepCreateIdentity, err)
	}

	// 4. Profile.
	if err := r.step(ctx, StepWriteProfile, func(ctx context.Context) error {
		var err error
		res.Principal, err = w.store.UpsertProfile(ctx, caller, tenancy.Principal{
			ID:          r.principalID,
			DisplayName: req.DisplayName,
			Email:       req.Email,
			ClientID:    req.TenantID,
			Level:       req.Level,
		})
		return err
	}); err != nil {
		return nil, r.partial(StepWriteProfile, err)
	}

	// 5. Roles. Assignment is idempotent, so a resumed run re-applies them all.
	if err := r.step(ctx, StepAssignRoles, func(ctx context.Context) error {
		for _, role := range roles {
			if err := w.store.AssignRole(ctx, caller, r.principalID, role.ID); err != nil {
				return fmt.Errorf("assign %q: %w", role.Name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, r.partial(StepAssignRoles, err)
	}

	if reset {
		res.Password = password
	}
	if !w.auditUserCreation {
		return res, nil
	}

	// 6. Optional audit.
	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
	}
	err := r.step(ctx, StepRecordAudit, func(ctx context.Context) error {
		_, err := w.audit.Record(ctx, req.TenantID, caller, audit.ActionUserCreated, map[string]any{
			"principal_id": r.principalID,
			"email":        req.Email,
			"display_name": req.DisplayName,
			"tenant_level": string(req.Level),
			"roles":        roleNames,
			"resumed":      res.Resumed,
		})
		return err
	})
	if err != nil {
		return res, auditFailure(audit.ActionUserCreated, tenancy.Deref(req.TenantID), err)
	}
	return res, nil
}

// authorizeCreateUser applies the create-user rules and returns the
// resolved roles:
//   - the caller is a super admin, or can access the target tenant;
//   - only super admins create principals above the user level or grant
//     roles that confer one;
//   - other callers granting roles need manage_users or manage_roles.
func (w *Workflow) authorizeCreateUser(ctx context.Context, caller string, req CreateUserRequest) ([]tenancy.Role, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("caller identity required")
	}
	isSuper, err := w.authz.IsSuperAdmin(ctx, caller)
	if err != nil {
		return nil, apperr.Unavailable("policy engine", err)
	}
	if !isSuper {
		ok, err := w.authz.CanAccessClient(ctx, caller, req.TenantID)
		if err != nil {
			return nil, apperr.Unavailable("policy engine", err)
		}
		if !ok {
			return nil, apperr.Forbidden("not permitted for this tenant")
		}
	}

	if err := w.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !req.Level.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("tenant_level must be super_admin, tenant_admin or user, got %q", req.Level))
	}
	if (req.Level == tenancy.LevelSuperAdmin) != (req.TenantID == nil) {
		return nil, apperr.Validation("tenant_id is required for every level except super_admin")
	}
	if req.Password != "" {
		if err := ValidatePassword(req.Password); err != nil {
			return nil, apperr.Validation(err.Error())
		}
	}
	if !isSuper && req.Level != tenancy.LevelUser {
		return nil, apperr.Forbidden("only a super admin can create " + string(req.Level) + " principals")
	}

	catalog, err := w.store.RoleCatalog(ctx)
	if err != nil {
		return nil, apperr.Unavailable("tenant store", err)
	}
	roles := make([]tenancy.Role, 0, len(req.RoleNames))
	seen := map[string]bool{}
	for _, name := range req.RoleNames {
		role, ok := store.RoleByName(catalog, name)
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown role %q", name))
		}
		if seen[role.ID] {
			continue
		}
		seen[role.ID] = true
		roles = append(roles, role)
	}
	for _, role := range roles {
		if !policy.Assignable(isSuper, role) {
			return nil, apperr.Forbidden(fmt.Sprintf("role %q can only be granted by a super admin", role.Name))
		}
	}
	if !isSuper && len(roles) > 0 {
		if err := w.requireRoleManagement(ctx, caller); err != nil {
			return nil, err
		}
	}

	if req.TenantID != nil {
		if _, err := w.store.GetTenant(ctx, caller, *req.TenantID); err != nil {
			return nil, store.AppError(err)
		}
	}
	return roles, nil
}

func (w *Workflow) requireRoleManagement(ctx context.Context, caller string) error {
	for _, perm := range []tenancy.Permission{tenancy.PermManageUsers, tenancy.PermManageRoles} {
		ok, err := w.authz.HasPermission(ctx, caller, perm)
		if err != nil {
			return apperr.Unavailable("policy engine", err)
		}
		if ok {
			return nil
		}
	}
	return apperr.Forbidden("manage_users or manage_roles permission required")
}
