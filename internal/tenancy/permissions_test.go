package tenancy

import (
	"errors"
	"testing"
)

func TestParsePermissionSet_RejectsUnknownTag(t *testing.T) {
	if _, err := ParsePermissionSet([]string{"view_logs", "root"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestPermissionSet_TagsInDeclarationOrder(t *testing.T) {
	s := NewPermissionSet(PermViewReports, PermManageUsers, PermViewLogs)
	got := s.Tags()
	want := []string{"manage_users", "view_logs", "view_reports"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAllPermissions_CoversEnumeration(t *testing.T) {
	if AllPermissions.Len() != 10 {
		t.Fatalf("expected 10 permissions, got %d", AllPermissions.Len())
	}
}

func TestPermissionSet_JSONUsesTags(t *testing.T) {
	s := NewPermissionSet(PermManageRoles)
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["manage_roles"]` {
		t.Fatalf("unexpected json %s", b)
	}
	var back PermissionSet
	if err := back.UnmarshalJSON([]byte(`["manage_roles","bogus"]`)); err == nil {
		t.Fatalf("expected unknown tag to fail")
	}
}

func TestValidateRole_PlatformPermissionsNeedSuperAdminLevel(t *testing.T) {
	r := Role{Name: "Sneaky", Permissions: NewPermissionSet(PermViewAllClients), Level: LevelUser}
	if err := ValidateRole(r); err == nil {
		t.Fatalf("expected error")
	}
	for _, r := range DefaultRoles() {
		if err := ValidateRole(r); err != nil {
			t.Fatalf("default role %q invalid: %v", r.Name, err)
		}
	}
}

func TestTenant_ActiveRequiresAdmin(t *testing.T) {
	tn := Tenant{ID: "t1"}
	if tn.Active() {
		t.Fatalf("provisional tenant reported active")
	}
	tn.AdminUserID = StringPtr("p1")
	if !tn.Active() {
		t.Fatalf("expected active")
	}
}
