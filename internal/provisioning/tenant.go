package provisioning

import (
	"context"
	"fmt"
	"strings"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"
)

// CreateTenantRequest is the input of CreateTenantWithAdmin. An empty
// Password asks for a generated one.
type CreateTenantRequest struct {
	TenantName       string             `json:"tenant_name" validate:"required_without=ResumeTenantID,max=200"`
	TenantEmail      string             `json:"tenant_email" validate:"omitempty,email"`
	TenantType       tenancy.TenantType `json:"tenant_type"`
	Settings         map[string]string  `json:"settings"`
	AdminEmail       string             `json:"admin_email" validate:"required,email"`
	AdminDisplayName string             `json:"admin_display_name" validate:"max=200"`
	Password         string             `json:"password"`

	// ResumeTenantID continues a partially provisioned tenant from step 4.
	ResumeTenantID string `json:"resume_tenant_id" validate:"omitempty,max=64"`
}

// TenantResult is returned on success, and alongside an audit_write_failed
// error. Password is the plaintext credential, handed out exactly once; it
// is empty when an existing identity was reused and could not be reset.
type TenantResult struct {
	Tenant            tenancy.Tenant    `json:"tenant"`
	Admin             tenancy.Principal `json:"admin"`
	Password          string            `json:"password,omitempty"`
	PasswordGenerated bool              `json:"password_generated"`
	Resumed           bool              `json:"resumed"`
}

func (w *Workflow) CreateTenantWithAdmin(ctx context.Context, caller string, req CreateTenantRequest) (*TenantResult, error) {
	r := w.newRun(workflowCreateTenant, caller)
	req.TenantName = strings.TrimSpace(req.TenantName)
	req.AdminEmail = strings.TrimSpace(req.AdminEmail)
	if req.TenantType == "" {
		req.TenantType = tenancy.TenantTypeRegular
	}

	// 1. Authorize and validate. Nothing has been written yet.
	if err := r.step(ctx, StepAuthorize, func(ctx context.Context) error {
		if err := w.authorizeSuperAdmin(ctx, caller); err != nil {
			return err
		}
		if err := w.validate.Struct(req); err != nil {
			return validationError(err)
		}
		if !req.TenantType.Valid() {
			return apperr.Validation(fmt.Sprintf("tenant_type must be regular or msp_tenant, got %q", req.TenantType))
		}
		if req.Password != "" {
			if err := ValidatePassword(req.Password); err != nil {
				return apperr.Validation(err.Error())
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// 2. Provisional tenant, or the one being resumed.
	var tenant tenancy.Tenant
	if err := r.step(ctx, StepCreateTenant, func(ctx context.Context) error {
		var err error
		if req.ResumeTenantID != "" {
			tenant, err = w.store.GetTenant(ctx, caller, req.ResumeTenantID)
			if err != nil {
				return store.AppError(err)
			}
			if tenant.Active() {
				return apperr.Conflict("tenant is already active", nil)
			}
			return nil
		}
		tenant, err = w.store.CreateTenant(ctx, caller, tenancy.Tenant{
			Name:         req.TenantName,
			ContactEmail: req.TenantEmail,
			Type:         req.TenantType,
			CreatedBy:    tenancy.StringPtr(caller),
			Settings:     req.Settings,
		})
		return store.AppError(err)
	}); err != nil {
		return nil, err
	}
	r.tenantID = tenant.ID
	res := &TenantResult{Tenant: tenant, Resumed: req.ResumeTenantID != ""}

	// 3. Password.
	var password string
	if err := r.step(ctx, StepResolvePassword, func(context.Context) error {
		var err error
		password, res.PasswordGenerated, err = w.resolvePassword(req.Password)
		return err
	}); err != nil {
		return nil, r.partial(StepResolvePassword, err)
	}

	// 4. Identity. A duplicate email resumes an identity with no profile, or
	// the pending admin of the tenant named by ResumeTenantID.
	var reset bool
	if err := r.step(ctx, StepCreateIdentity, func(ctx context.Context) error {
		id, resumed, pwReset, err := w.createOrReuseIdentity(ctx, req.AdminEmail, password, req.ResumeTenantID, map[string]string{
			"display_name": req.AdminDisplayName,
			"tenant_id":    tenant.ID,
		})
		if err != nil {
			return err
		}
		r.principalID, reset = id, pwReset
		res.Resumed = res.Resumed || resumed
		return nil
	}); err != nil {
		return nil, r.partial(StepCreateIdentity, err)
	}

	// 5. Profile.
	if err := r.step(ctx, StepWriteProfile, func(ctx context.Context) error {
		var err error
		res.Admin, err = w.store.UpsertProfile(ctx, caller, tenancy.Principal{
			ID:          r.principalID,
			DisplayName: req.AdminDisplayName,
			Email:       req.AdminEmail,
			ClientID:    &tenant.ID,
			Level:       tenancy.LevelTenantAdmin,
		})
		return err
	}); err != nil {
		return nil, r.partial(StepWriteProfile, err)
	}

	// 6. Tenant Admin role.
	if err := r.step(ctx, StepAssignRole, func(ctx context.Context) error {
		catalog, err := w.store.RoleCatalog(ctx)
		if err != nil {
			return err
		}
		role, ok := store.RoleByName(catalog, tenancy.RoleTenantAdmin)
		if !ok {
			return fmt.Errorf("role %q missing from catalog", tenancy.RoleTenantAdmin)
		}
		return w.store.AssignRole(ctx, caller, r.principalID, role.ID)
	}); err != nil {
		return nil, r.partial(StepAssignRole, err)
	}

	// 7. Activate. From here on the tenant is usable.
	if err := r.step(ctx, StepActivateTenant, func(ctx context.Context) error {
		var err error
		res.Tenant, err = w.store.SetTenantAdmin(ctx, caller, tenant.ID, r.principalID)
		return err
	}); err != nil {
		return nil, r.partial(StepActivateTenant, err)
	}

	if reset {
		res.Password = password
	}

	// 8. Audit. A failure here still hands back the result.
	err := r.step(ctx, StepRecordAudit, func(ctx context.Context) error {
		_, err := w.audit.Record(ctx, &tenant.ID, caller, audit.ActionTenantCreated, map[string]any{
			"tenant_name":        res.Tenant.Name,
			"tenant_type":        string(res.Tenant.Type),
			"admin_email":        req.AdminEmail,
			"admin_display_name": req.AdminDisplayName,
			"admin_principal_id": r.principalID,
			"resumed":            res.Resumed,
		})
		return err
	})
	if err != nil {
		return res, auditFailure(audit.ActionTenantCreated, tenant.ID, err)
	}
	return res, nil
}

// DiscardTenant deletes a provisional tenant left behind by an abandoned
// provisioning run. Active tenants are refused.
func (w *Workflow) DiscardTenant(ctx context.Context, caller, tenantID string) error {
	r := w.newRun(workflowDiscardTenant, caller)
	r.tenantID = tenantID

	if err := r.step(ctx, StepAuthorize, func(ctx context.Context) error {
		return w.authorizeSuperAdmin(ctx, caller)
	}); err != nil {
		return err
	}

	var tenant tenancy.Tenant
	if err := r.step(ctx, StepDiscardTenant, func(ctx context.Context) error {
		var err error
		tenant, err = w.store.GetTenant(ctx, caller, tenantID)
		if err != nil {
			return store.AppError(err)
		}
		if tenant.Active() {
			return apperr.Conflict("only provisional tenants can be discarded", nil)
		}
		return store.AppError(w.store.DeleteTenant(ctx, caller, tenantID))
	}); err != nil {
		return err
	}

	if err := r.step(ctx, StepRecordAudit, func(ctx context.Context) error {
		_, err := w.audit.Record(ctx, &tenantID, caller, audit.ActionTenantDiscarded, map[string]any{
			"tenant_name": tenant.Name,
		})
		return err
	}); err != nil {
		return auditFailure(audit.ActionTenantDiscarded, tenantID, err)
	}
	return nil
}

// ProvisionalTenants lists tenants that never reached activation.
func (w *Workflow) ProvisionalTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error) {
	if err := w.authorizeSuperAdmin(ctx, caller); err != nil {
		return nil, err
	}
	all, err := w.store.ListTenants(ctx, caller)
	if err != nil {
		return nil, store.AppError(err)
	}
	out := make([]tenancy.Tenant, 0)
	for _, t := range all {
		if !t.Active() {
			out = append(out, t)
		}
	}
	return out, nil
}
