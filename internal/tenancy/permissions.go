package tenancy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Permission is one tag from the closed permission enumeration.
type Permission uint16

const (
	PermManageUsers Permission = 1 << iota
	PermManageRoles
	PermViewAllClients
	PermManageClients
	PermViewLogs
	PermManageLogs
	PermViewAssets
	PermManageAssets
	PermViewReports
	PermManageReports

	permSentinel
)

var permissionNames = map[Permission]string{
	PermManageUsers:    "manage_users",
	PermManageRoles:    "manage_roles",
	PermViewAllClients: "view_all_clients",
	PermManageClients:  "manage_clients",
	PermViewLogs:       "view_logs",
	PermManageLogs:     "manage_logs",
	PermViewAssets:     "view_assets",
	PermManageAssets:   "manage_assets",
	PermViewReports:    "view_reports",
	PermManageReports:  "manage_reports",
}

var ErrUnknownPermission = errors.New("tenancy: unknown permission")

func (p Permission) String() string {
	if n, ok := permissionNames[p]; ok {
		return n
	}
	return fmt.Sprintf("permission(%d)", uint16(p))
}

// ParsePermission maps a tag to its Permission. Unknown tags are rejected.
func ParsePermission(tag string) (Permission, error) {
	tag = strings.TrimSpace(tag)
	for p, n := range permissionNames {
		if n == tag {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, tag)
}

// PermissionSet is a set of permissions stored as a bit mask.
type PermissionSet uint16

// AllPermissions contains every defined permission.
const AllPermissions = PermissionSet(permSentinel - 1)

// PlatformPermissions may only be conferred by a super_admin level role.
const PlatformPermissions = PermissionSet(PermViewAllClients | PermManageClients)

func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= PermissionSet(p)
	}
	return s & AllPermissions
}

// ParsePermissionSet parses tags; any unknown tag fails the whole set.
func ParsePermissionSet(tags []string) (PermissionSet, error) {
	var s PermissionSet
	for _, t := range tags {
		p, err := ParsePermission(t)
		if err != nil {
			return 0, err
		}
		s |= PermissionSet(p)
	}
	return s, nil
}

func (s PermissionSet) Has(p Permission) bool { return s&PermissionSet(p) != 0 }

// HasAny reports whether s shares at least one permission with other.
func (s PermissionSet) HasAny(other PermissionSet) bool { return s&other != 0 }

func (s PermissionSet) Union(other PermissionSet) PermissionSet { return s | other }

func (s PermissionSet) Len() int { return bits.OnesCount16(uint16(s & AllPermissions)) }

// Tags returns the permission tags in declaration order.
func (s PermissionSet) Tags() []string {
	out := make([]string, 0, s.Len())
	for p := Permission(1); p < permSentinel; p <<= 1 {
		if s.Has(p) {
			out = append(out, p.String())
		}
	}
	return out
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tags())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(tags)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ValidateRole checks the structural rules for a catalog entry.
func ValidateRole(r Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("tenancy: role name required")
	}
	if !r.Level.Valid() {
		return fmt.Errorf("tenancy: role %q has invalid level %q", r.Name, r.Level)
	}
	if r.Permissions.HasAny(PlatformPermissions) && r.Level != LevelSuperAdmin {
		return fmt.Errorf("tenancy: role %q grants platform permissions without super_admin level", r.Name)
	}
	return nil
}

// DefaultRoles is the catalog seeded on bootstrap.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        RoleSuperAdmin,
			Description: "Platform-wide administrator",
			Permissions: AllPermissions,
			Level:       LevelSuperAdmin,
		},
		{
			Name:        RoleTenantAdmin,
			Description: "Administrator of a single tenant",
			Permissions: NewPermissionSet(PermManageUsers, PermManageRoles, PermViewLogs,
				PermViewAssets, PermManageAssets, PermViewReports, PermManageReports),
			Level: LevelTenantAdmin,
		},
		{
			Name:        "Analyst",
			Description: "Read access to logs, assets and reports",
			Permissions: NewPermissionSet(PermViewLogs, PermViewAssets, PermViewReports),
			Level:       LevelUser,
		},
		{
			Name:        "Asset Manager",
			Description: "Manages tenant assets",
			Permissions: NewPermissionSet(PermViewAssets, PermManageAssets),
			Level:       LevelUser,
		},
		{
			Name:        "Viewer",
			Description: "Read-only access to assets and reports",
			Permissions: NewPermissionSet(PermViewAssets, PermViewReports),
			Level:       LevelUser,
		},
	}
}
