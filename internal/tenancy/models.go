package tenancy

import "time"

// Tenant is an isolated customer organization.
//
// Invariants:
// - Name is unique across all tenants.
// - AdminUserID is nil while the tenant is provisional. Once set it references
//   a Principal with Level tenant_admin and ClientID == ID.
type Tenant struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	ContactEmail string     `json:"contact_email" db:"contact_email"`
	Type         TenantType `json:"tenant_type" db:"tenant_type"`

	// CreatedBy is nil only for legacy/system-created tenants.
	CreatedBy   *string `json:"created_by,omitempty" db:"created_by"`
	AdminUserID *string `json:"admin_user_id,omitempty" db:"admin_user_id"`

	Settings map[string]string `json:"settings" db:"settings"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether provisioning completed (admin reference set).
// Consumers must not treat a provisional tenant as ready.
func (t Tenant) Active() bool { return t.AdminUserID != nil && *t.AdminUserID != "" }

type TenantType string

const (
	TenantTypeRegular TenantType = "regular"
	TenantTypeMSP     TenantType = "msp_tenant"
)

func (t TenantType) Valid() bool {
	return t == TenantTypeRegular || t == TenantTypeMSP
}

// Principal is the profile of a registered user. ID is issued by the identity
// directory; credentials never live here.
type Principal struct {
	ID          string      `json:"id" db:"id"`
	DisplayName string      `json:"display_name" db:"display_name"`
	Email       string      `json:"email" db:"email"`
	ClientID    *string     `json:"client_id,omitempty" db:"client_id"`
	Level       TenantLevel `json:"tenant_level" db:"tenant_level"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BelongsTo reports whether the principal's profile is scoped to tenantID.
func (p Principal) BelongsTo(tenantID string) bool {
	return p.ClientID != nil && tenantID != "" && *p.ClientID == tenantID
}

// TenantLevel is the coarse hierarchy tag on a principal.
type TenantLevel string

const (
	LevelSuperAdmin  TenantLevel = "super_admin"
	LevelTenantAdmin TenantLevel = "tenant_admin"
	LevelUser        TenantLevel = "user"
)

func (l TenantLevel) Valid() bool {
	switch l {
	case LevelSuperAdmin, LevelTenantAdmin, LevelUser:
		return true
	default:
		return false
	}
}

// Role is a named bundle of permissions. Level is the tenant level the role
// confers on its holder.
type Role struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description" db:"description"`
	Permissions PermissionSet `json:"permissions" db:"permissions"`
	Level       TenantLevel   `json:"level" db:"level"`
}

// Reserved role names. Keep these stable; authorization decisions key on them.
const (
	RoleSuperAdmin  = "Super Admin"
	RoleTenantAdmin = "Tenant Admin"
)

// RoleAssignment associates a principal with a role. Unique per pair.
type RoleAssignment struct {
	PrincipalID string    `json:"principal_id" db:"principal_id"`
	RoleID      string    `json:"role_id" db:"role_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// StringPtr returns nil for "" so optional IDs stay nil rather than empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
