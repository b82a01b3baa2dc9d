package provisioning

import (
	"context"
	"testing"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"
)

// withTenant provisions Acme Corp and returns its tenant ID and admin ID.
func withTenant(t *testing.T, f *fixture, name, adminEmail string) (string, string) {
	t.Helper()
	req := acme()
	req.TenantName, req.AdminEmail = name, adminEmail
	res, err := f.wf.CreateTenantWithAdmin(context.Background(), "root", req)
	if err != nil {
		t.Fatalf("setup %s: %v", name, err)
	}
	return res.Tenant.ID, res.Admin.ID
}

func TestCreateUser_TenantAdminCannotGrantElevatedRoles(t *testing.T) {
	f := newFixture(t, nil)
	tenantA, adminA := withTenant(t, f, "Acme Corp", "admin@acme.com")
	before := f.dir.Count()

	for _, role := range []string{tenancy.RoleTenantAdmin, tenancy.RoleSuperAdmin} {
		_, err := f.wf.CreateUser(context.Background(), adminA, CreateUserRequest{
			Email: "eve@acme.com", TenantID: &tenantA, RoleNames: []string{role},
		})
		if apperr.KindOf(err) != apperr.KindForbidden {
			t.Fatalf("granting %q: expected forbidden, got %v", role, err)
		}
	}
	if f.dir.Count() != before {
		t.Fatalf("escalation attempt must not create an identity")
	}
}

func TestCreateUser_TenantAdminCannotRaiseLevel(t *testing.T) {
	f := newFixture(t, nil)
	tenantA, adminA := withTenant(t, f, "Acme Corp", "admin@acme.com")

	_, err := f.wf.CreateUser(context.Background(), adminA, CreateUserRequest{
		Email: "eve@acme.com", TenantID: &tenantA, Level: tenancy.LevelTenantAdmin,
	})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateUser_CrossTenantForbidden(t *testing.T) {
	f := newFixture(t, nil)
	_, adminA := withTenant(t, f, "Acme Corp", "admin@acme.com")
	tenantB, _ := withTenant(t, f, "Beta", "admin@beta.com")

	_, err := f.wf.CreateUser(context.Background(), adminA, CreateUserRequest{Email: "x@beta.com", TenantID: &tenantB})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = f.wf.CreateUser(context.Background(), adminA, CreateUserRequest{Email: "x@nowhere.com"})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("null target is super admin only, got %v", err)
	}
}

func TestCreateUser_UnknownRoleIsValidation(t *testing.T) {
	f := newFixture(t, nil)
	tenantA, _ := withTenant(t, f, "Acme Corp", "admin@acme.com")

	_, err := f.wf.CreateUser(context.Background(), "root", CreateUserRequest{
		Email: "bob@acme.com", TenantID: &tenantA, RoleNames: []string{"Viewer", "Wizard"},
	})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation, got %v", err)
	}
}

func TestCreateUser_ByTenantAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tenantA, adminA := withTenant(t, f, "Acme Corp", "admin@acme.com")

	res, err := f.wf.CreateUser(ctx, adminA, CreateUserRequest{
		Email: "bob@acme.com", DisplayName: "Bob", TenantID: &tenantA, RoleNames: []string{"Viewer", "Analyst", "Viewer"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Principal.Level != tenancy.LevelUser || !res.Principal.BelongsTo(tenantA) {
		t.Fatalf("unexpected principal %+v", res.Principal)
	}
	held, _ := f.mem.HeldRoles(ctx, res.Principal.ID)
	if len(held) != 2 {
		t.Fatalf("expected two distinct roles, got %+v", held)
	}
	if err := ValidatePassword(res.Password); err != nil {
		t.Fatalf("generated password fails policy")
	}
	recs := f.repo.Records()
	if last := recs[len(recs)-1]; last.Action != audit.ActionUserCreated || last.PerformedBy != adminA {
		t.Fatalf("expected user_created by the admin, got %+v", last)
	}
}

func TestCreateUser_AuditIsConfigurable(t *testing.T) {
	f := newFixture(t, nil, WithAuditUserCreation(false))
	tenantA, _ := withTenant(t, f, "Acme Corp", "admin@acme.com")
	before := len(f.repo.Records())

	if _, err := f.wf.CreateUser(context.Background(), "root", CreateUserRequest{Email: "bob@acme.com", TenantID: &tenantA}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(f.repo.Records()) != before {
		t.Fatalf("user_created must not be recorded when disabled")
	}
}

func TestCreateUser_ViewerCannotGrantRoles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tenantA, _ := withTenant(t, f, "Acme Corp", "admin@acme.com")
	viewer, err := f.wf.CreateUser(ctx, "root", CreateUserRequest{Email: "v@acme.com", TenantID: &tenantA, RoleNames: []string{"Viewer"}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	// members may create plain users in their own tenant, but not grant roles
	if _, err := f.wf.CreateUser(ctx, viewer.Principal.ID, CreateUserRequest{Email: "w@acme.com", TenantID: &tenantA}); err != nil {
		t.Fatalf("plain user: %v", err)
	}
	_, err = f.wf.CreateUser(ctx, viewer.Principal.ID, CreateUserRequest{Email: "z@acme.com", TenantID: &tenantA, RoleNames: []string{"Viewer"}})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreateUser_SuperAdminLevelRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tenantA, _ := withTenant(t, f, "Acme Corp", "admin@acme.com")

	_, err := f.wf.CreateUser(ctx, "root", CreateUserRequest{Email: "ops@platform.test", Level: tenancy.LevelSuperAdmin, TenantID: &tenantA})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("super admin with tenant: expected validation, got %v", err)
	}
	res, err := f.wf.CreateUser(ctx, "root", CreateUserRequest{
		Email: "ops@platform.test", Level: tenancy.LevelSuperAdmin, RoleNames: []string{tenancy.RoleSuperAdmin},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok, _ := f.wf.authz.IsSuperAdmin(ctx, res.Principal.ID); !ok {
		t.Fatalf("new principal should be a super admin")
	}
}

func TestCreateUser_ResumeAfterProfileFailure(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s store.Store) store.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := context.Background()
	tenantA, _ := withTenant(t, f, "Acme Corp", "admin@acme.com")
	flaky.failUpsert = 1
	before := f.dir.Count()

	req := CreateUserRequest{Email: "bob@acme.com", TenantID: &tenantA, RoleNames: []string{"Viewer"}}
	_, err := f.wf.CreateUser(ctx, "root", req)
	if e := apperr.As(err); e == nil || e.Kind != apperr.KindPartialProvisioning || e.Step != StepWriteProfile.String() {
		t.Fatalf("expected partial at write_profile, got %v", err)
	}

	res, err := f.wf.CreateUser(ctx, "root", req)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !res.Resumed || f.dir.Count() != before+1 {
		t.Fatalf("expected resume without a second identity, count=%d", f.dir.Count())
	}
}

func TestCreateUser_DuplicateEmailOfProvisionedPrincipalConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := acme()
	req.Password = "Admin-Original-Pass-1"
	tenant, err := f.wf.CreateTenantWithAdmin(ctx, "root", req)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	tenantA, adminA := tenant.Tenant.ID, tenant.Admin.ID
	member, err := f.wf.CreateUser(ctx, "root", CreateUserRequest{Email: "mallory@acme.com", TenantID: &tenantA})
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	before := f.dir.Count()

	cases := []struct {
		name   string
		caller string
		req    CreateUserRequest
	}{
		{"member targets admin", member.Principal.ID, CreateUserRequest{Email: "admin@acme.com", TenantID: &tenantA, Password: "Attacker-Pass-123"}},
		{"member targets self", member.Principal.ID, CreateUserRequest{Email: "mallory@acme.com", TenantID: &tenantA, Password: "Attacker-Pass-123"}},
		{"root targets admin", "root", CreateUserRequest{Email: "admin@acme.com", TenantID: &tenantA}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.wf.CreateUser(ctx, tc.caller, tc.req)
			if apperr.KindOf(err) != apperr.KindConflict {
				t.Fatalf("expected conflict, got res=%+v err=%v", res, err)
			}
			if e := apperr.As(err); e.PrincipalID != "" {
				t.Fatalf("conflict must not reveal the existing principal, got %+v", e)
			}
		})
	}

	if f.dir.Count() != before {
		t.Fatalf("no identity may be created, count=%d", f.dir.Count())
	}
	if _, err := f.dir.Authenticate(ctx, "admin@acme.com", "Attacker-Pass-123"); err == nil {
		t.Fatalf("admin password was reset")
	}
	if id, err := f.dir.Authenticate(ctx, "admin@acme.com", "Admin-Original-Pass-1"); err != nil || id != adminA {
		t.Fatalf("original admin password must still work: id=%s err=%v", id, err)
	}
	p, _, _ := f.mem.LookupPrincipal(ctx, adminA)
	if p.Level != tenancy.LevelTenantAdmin || !p.BelongsTo(tenantA) {
		t.Fatalf("admin profile changed: %+v", p)
	}
	tn, _ := f.mem.GetTenant(ctx, "root", tenantA)
	if tenancy.Deref(tn.AdminUserID) != adminA {
		t.Fatalf("tenant admin changed: %+v", tn)
	}
}
