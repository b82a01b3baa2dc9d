package admin

import (
	"context"
	"testing"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/identity"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"

	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	svc  *Service
	mem  *store.MemoryStore
	repo *audit.MemoryRepo

	tenantA, adminA string
	tenantB, adminB string
	userA           string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	if _, err := mem.SeedRoles(ctx, tenancy.DefaultRoles()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mem.BootstrapSuperAdmin(ctx, tenancy.Principal{ID: "root", Email: "root@platform.test"}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	engine := policy.NewEngine(mem)
	repo := audit.NewMemoryRepo()
	log := audit.NewService(repo, engine)
	wf := provisioning.New(engine, mem, identity.NewMemoryDirectory(nil, bcrypt.MinCost), log)
	f := &fixture{svc: NewService(engine, mem, log, wf), mem: mem, repo: repo}

	a, err := f.svc.CreateTenant(ctx, "root", provisioning.CreateTenantRequest{TenantName: "Acme", AdminEmail: "admin@acme.test"})
	if err != nil {
		t.Fatalf("tenant a: %v", err)
	}
	b, err := f.svc.CreateTenant(ctx, "root", provisioning.CreateTenantRequest{TenantName: "Beta", AdminEmail: "admin@beta.test"})
	if err != nil {
		t.Fatalf("tenant b: %v", err)
	}
	f.tenantA, f.adminA = a.Tenant.ID, a.Admin.ID
	f.tenantB, f.adminB = b.Tenant.ID, b.Admin.ID

	u, err := f.svc.CreateUser(ctx, f.adminA, provisioning.CreateUserRequest{Email: "user@acme.test", TenantID: &f.tenantA})
	if err != nil {
		t.Fatalf("user a: %v", err)
	}
	f.userA = u.Principal.ID
	return f
}

func (f *fixture) role(t *testing.T, name string) tenancy.Role {
	t.Helper()
	cat, _ := f.mem.RoleCatalog(context.Background())
	r, ok := store.RoleByName(cat, name)
	if !ok {
		t.Fatalf("missing role %s", name)
	}
	return r
}

func TestListUsers_CrossTenantForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.ListUsers(ctx, f.adminA, &f.tenantB)
	if apperr.KindOf(err) != apperr.KindForbidden || got != nil {
		t.Fatalf("expected forbidden and no data, got %v (%d rows)", err, len(got))
	}
	own, err := f.svc.ListUsers(ctx, f.adminA, &f.tenantA)
	if err != nil {
		t.Fatalf("own tenant: %v", err)
	}
	for _, p := range own {
		if !p.BelongsTo(f.tenantA) {
			t.Fatalf("leaked principal %s from another tenant", p.ID)
		}
	}
	if len(own) != 2 {
		t.Fatalf("expected admin and user, got %d", len(own))
	}
}

func TestListTenants_ScopedToMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.svc.ListTenants(ctx, f.adminA)
	if err != nil || len(mine) != 1 || mine[0].ID != f.tenantA {
		t.Fatalf("expected only tenant A, got %+v (%v)", mine, err)
	}
	all, _ := f.svc.ListTenants(ctx, "root")
	if len(all) != 2 {
		t.Fatalf("super admin should see both tenants, got %d", len(all))
	}
	if _, err := f.svc.ListTenants(ctx, ""); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAssignRole_IdempotentAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.role(t, "Viewer")
	before := len(f.repo.Records())

	for i := 0; i < 2; i++ {
		if err := f.svc.AssignRole(ctx, f.adminA, f.userA, viewer.ID); err != nil {
			t.Fatalf("assign #%d: %v", i, err)
		}
	}
	roles, _ := f.svc.PrincipalRoles(ctx, f.adminA, f.userA)
	if len(roles) != 1 {
		t.Fatalf("expected one role, got %d", len(roles))
	}
	for i := 0; i < 2; i++ {
		if err := f.svc.RemoveRole(ctx, f.adminA, f.userA, viewer.ID); err != nil {
			t.Fatalf("remove #%d: %v", i, err)
		}
	}
	recs := f.repo.Records()[before:]
	if len(recs) != 4 || recs[0].Action != audit.ActionRoleAssigned || recs[3].Action != audit.ActionRoleRemoved {
		t.Fatalf("unexpected audit trail %+v", recs)
	}
}

func TestAssignRole_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller string
		target string
		role   string
		want   apperr.Kind
	}{
		{"escalate to tenant admin", f.adminA, f.userA, f.role(t, tenancy.RoleTenantAdmin).ID, apperr.KindForbidden},
		{"escalate to super admin", f.adminA, f.userA, f.role(t, tenancy.RoleSuperAdmin).ID, apperr.KindForbidden},
		{"foreign admin", f.adminB, f.userA, f.role(t, "Viewer").ID, apperr.KindForbidden},
		{"plain user", f.userA, f.userA, f.role(t, "Viewer").ID, apperr.KindForbidden},
		{"unknown role", f.adminA, f.userA, "no-such-role", apperr.KindNotFound},
		{"super admin elevates", "root", f.userA, f.role(t, "Asset Manager").ID, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.AssignRole(ctx, tc.caller, tc.target, tc.role)
			if apperr.KindOf(err) != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "Renamed"

	got, err := f.svc.UpdateProfile(ctx, f.userA, f.userA, ProfileUpdate{DisplayName: &name})
	if err != nil || got.DisplayName != name {
		t.Fatalf("self update: %v", err)
	}
	if got.Level != tenancy.LevelUser || !got.BelongsTo(f.tenantA) {
		t.Fatalf("level and tenant must be untouched, got %+v", got)
	}
	if _, err := f.svc.UpdateProfile(ctx, f.adminB, f.userA, ProfileUpdate{DisplayName: &name}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("foreign admin: expected forbidden, got %v", err)
	}
	bad := "nope"
	if _, err := f.svc.UpdateProfile(ctx, f.adminA, f.userA, ProfileUpdate{Email: &bad}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad email: expected validation, got %v", err)
	}
	if _, err := f.svc.UpdateProfile(ctx, f.userA, f.adminA, ProfileUpdate{DisplayName: &name}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("user without manage_users: expected forbidden, got %v", err)
	}
	recs := f.repo.Records()
	if last := recs[len(recs)-1]; last.Action != audit.ActionProfileUpdated {
		t.Fatalf("expected profile_updated, got %s", last.Action)
	}
}

func TestUpdateTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name, taken := "Acme Holdings", "beta"

	got, err := f.svc.UpdateTenant(ctx, f.adminA, f.tenantA, TenantUpdate{Name: &name, Settings: map[string]string{"region": "eu"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != name || got.Settings["region"] != "eu" || !got.Active() {
		t.Fatalf("unexpected tenant %+v", got)
	}
	if _, err := f.svc.UpdateTenant(ctx, f.adminA, f.tenantA, TenantUpdate{Name: &taken}); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.svc.UpdateTenant(ctx, f.adminA, f.tenantB, TenantUpdate{Name: &name}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.UpdateTenant(ctx, f.userA, f.tenantA, TenantUpdate{Name: &name}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("plain member: expected forbidden, got %v", err)
	}
}

func TestListRoles_FlagsAssignable(t *testing.T) {
	f := newFixture(t)
	views, err := f.svc.ListRoles(context.Background(), f.adminA)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, v := range views {
		elevated := v.Name == tenancy.RoleSuperAdmin || v.Name == tenancy.RoleTenantAdmin
		if v.Assignable == elevated {
			t.Fatalf("role %q: assignable=%v", v.Name, v.Assignable)
		}
	}
}

func TestListAudit_TenantAdminSeesOwnTenantOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recs, err := f.svc.ListAudit(ctx, f.adminA, &f.tenantA)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, r := range recs {
		if tenancy.Deref(r.TenantID) != f.tenantA {
			t.Fatalf("leaked record of tenant %s", tenancy.Deref(r.TenantID))
		}
	}
	if _, err := f.svc.ListAudit(ctx, f.adminA, &f.tenantB); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	all, _ := f.svc.ListAudit(ctx, "root", nil)
	if len(all) < 3 {
		t.Fatalf("super admin should see every record, got %d", len(all))
	}
}
