package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tenant-platform/internal/policy"
	"tenant-platform/internal/tenancy"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// All state is guarded by one mutex, which makes name uniqueness atomic.
type MemoryStore struct {
	mu sync.RWMutex

	tenants     map[string]tenancy.Tenant
	tenantNames map[string]string // normalized name -> tenant id
	principals  map[string]tenancy.Principal
	roles       map[string]tenancy.Role
	assignments map[string]map[string]time.Time // principal id -> role id -> assigned at

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     map[string]tenancy.Tenant{},
		tenantNames: map[string]string{},
		principals:  map[string]tenancy.Principal{},
		roles:       map[string]tenancy.Role{},
		assignments: map[string]map[string]time.Time{},
		clock:       time.Now,
	}
}

// --- policy.Reader ---

func (m *MemoryStore) LookupPrincipal(ctx context.Context, principalID string) (tenancy.Principal, bool, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Principal{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[principalID]
	return clonePrincipal(p), ok, nil
}

func (m *MemoryStore) HeldRoles(ctx context.Context, principalID string) ([]tenancy.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heldRolesLocked(principalID), nil
}

func (m *MemoryStore) RoleCatalog(ctx context.Context) ([]tenancy.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalogLocked(), nil
}

// --- tenants ---

func (m *MemoryStore) CreateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Tenant{}, err
	}
	if err := validateTenant(t); err != nil {
		return tenancy.Tenant{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := guardCreateTenant(m.subjectLocked(caller)); err != nil {
		return tenancy.Tenant{}, err
	}
	key := normalizeName(t.Name)
	if _, taken := m.tenantNames[key]; taken {
		return tenancy.Tenant{}, fmt.Errorf("%w: tenant name %q", ErrConflict, t.Name)
	}

	now := m.clock().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.AdminUserID = nil
	t.CreatedAt, t.UpdatedAt = now, now
	t.Settings = cloneSettings(t.Settings)

	m.tenants[t.ID] = t
	m.tenantNames[key] = t.ID
	return cloneTenant(t), nil
}

func (m *MemoryStore) GetTenant(ctx context.Context, caller, tenantID string) (tenancy.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Tenant{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.subjectLocked(caller)
	if !s.CanAccessClient(&tenantID) {
		return tenancy.Tenant{}, ErrForbidden
	}
	t, ok := m.tenants[tenantID]
	if !ok {
		return tenancy.Tenant{}, ErrNotFound
	}
	return cloneTenant(t), nil
}

func (m *MemoryStore) ListTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.subjectLocked(caller)
	out := make([]tenancy.Tenant, 0)
	for id, t := range m.tenants {
		id := id
		if s.CanAccessClient(&id) {
			out = append(out, cloneTenant(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Tenant{}, err
	}
	if err := validateTenant(t); err != nil {
		return tenancy.Tenant{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := guardUpdateTenant(m.subjectLocked(caller), t.ID); err != nil {
		return tenancy.Tenant{}, err
	}
	cur, ok := m.tenants[t.ID]
	if !ok {
		return tenancy.Tenant{}, ErrNotFound
	}
	oldKey, newKey := normalizeName(cur.Name), normalizeName(t.Name)
	if oldKey != newKey {
		if _, taken := m.tenantNames[newKey]; taken {
			return tenancy.Tenant{}, fmt.Errorf("%w: tenant name %q", ErrConflict, t.Name)
		}
		delete(m.tenantNames, oldKey)
		m.tenantNames[newKey] = cur.ID
	}
	cur.Name = t.Name
	cur.ContactEmail = t.ContactEmail
	cur.Type = t.Type
	cur.Settings = cloneSettings(t.Settings)
	cur.UpdatedAt = m.clock().UTC()
	m.tenants[cur.ID] = cur
	return cloneTenant(cur), nil
}

func (m *MemoryStore) SetTenantAdmin(ctx context.Context, caller, tenantID, principalID string) (tenancy.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Tenant{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subjectLocked(caller).SuperAdmin() {
		return tenancy.Tenant{}, ErrForbidden
	}
	t, ok := m.tenants[tenantID]
	if !ok {
		return tenancy.Tenant{}, ErrNotFound
	}
	p, ok := m.principals[principalID]
	if !ok {
		return tenancy.Tenant{}, fmt.Errorf("%w: admin principal has no profile", ErrInvalid)
	}
	if err := validateActivation(t, p); err != nil {
		return tenancy.Tenant{}, err
	}
	t.AdminUserID = &p.ID
	t.UpdatedAt = m.clock().UTC()
	m.tenants[tenantID] = t
	return cloneTenant(t), nil
}

func (m *MemoryStore) DeleteTenant(ctx context.Context, caller, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subjectLocked(caller).SuperAdmin() {
		return ErrForbidden
	}
	t, ok := m.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	for id, p := range m.principals {
		if p.BelongsTo(tenantID) {
			delete(m.principals, id)
			delete(m.assignments, id)
		}
	}
	delete(m.tenantNames, normalizeName(t.Name))
	delete(m.tenants, tenantID)
	return nil
}

// --- principals ---

func (m *MemoryStore) UpsertProfile(ctx context.Context, caller string, p tenancy.Principal) (tenancy.Principal, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Principal{}, err
	}
	if err := validateProfile(p); err != nil {
		return tenancy.Principal{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *tenancy.Principal
	if cur, ok := m.principals[p.ID]; ok {
		prev = &cur
	}
	if err := guardWriteProfile(m.subjectLocked(caller), p, prev); err != nil {
		return tenancy.Principal{}, err
	}
	if err := guardActiveAdmin(p, prev, m.adminOfLocked(p.ID)); err != nil {
		return tenancy.Principal{}, err
	}
	if p.ClientID != nil {
		if _, ok := m.tenants[*p.ClientID]; !ok {
			return tenancy.Principal{}, fmt.Errorf("%w: unknown tenant", ErrInvalid)
		}
	}

	now := m.clock().UTC()
	p.UpdatedAt = now
	if prev != nil {
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p = clonePrincipal(p)
	m.principals[p.ID] = p
	return clonePrincipal(p), nil
}

func (m *MemoryStore) GetPrincipal(ctx context.Context, caller, principalID string) (tenancy.Principal, error) {
	if err := ctx.Err(); err != nil {
		return tenancy.Principal{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.subjectLocked(caller)
	p, ok := m.principals[principalID]
	if !ok {
		if s.SuperAdmin() {
			return tenancy.Principal{}, ErrNotFound
		}
		return tenancy.Principal{}, ErrForbidden
	}
	if err := guardReadPrincipal(s, p); err != nil {
		return tenancy.Principal{}, err
	}
	return clonePrincipal(p), nil
}

func (m *MemoryStore) ListPrincipals(ctx context.Context, caller string, tenantID *string) ([]tenancy.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.subjectLocked(caller).CanAccessClient(tenantID) {
		return nil, ErrForbidden
	}
	out := make([]tenancy.Principal, 0)
	for _, p := range m.principals {
		if tenantID == nil || p.BelongsTo(*tenantID) {
			out = append(out, clonePrincipal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// --- roles ---

func (m *MemoryStore) ListRoles(ctx context.Context, caller string) ([]tenancy.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s := m.subjectLocked(caller); !s.Found && !s.SuperAdmin() {
		return nil, ErrForbidden
	}
	return m.catalogLocked(), nil
}

func (m *MemoryStore) AssignRole(ctx context.Context, caller, principalID, roleID string) error {
	return m.changeRole(ctx, caller, principalID, roleID, true)
}

func (m *MemoryStore) RemoveRole(ctx context.Context, caller, principalID, roleID string) error {
	return m.changeRole(ctx, caller, principalID, roleID, false)
}

func (m *MemoryStore) changeRole(ctx context.Context, caller, principalID, roleID string, assign bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.principals[principalID]
	if !ok {
		return fmt.Errorf("%w: principal", ErrNotFound)
	}
	role, ok := m.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role", ErrNotFound)
	}
	if err := guardRoleChange(m.subjectLocked(caller), target, role); err != nil {
		return err
	}

	held := m.assignments[principalID]
	if assign {
		if held == nil {
			held = map[string]time.Time{}
			m.assignments[principalID] = held
		}
		if _, already := held[roleID]; !already {
			held[roleID] = m.clock().UTC()
		}
		return nil
	}
	delete(held, roleID)
	return nil
}

func (m *MemoryStore) PrincipalRoles(ctx context.Context, caller, principalID string) ([]tenancy.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardReadPrincipal(m.subjectLocked(caller), p); err != nil {
		return nil, err
	}
	return m.heldRolesLocked(principalID), nil
}

// --- system ---

func (m *MemoryStore) SeedRoles(ctx context.Context, roles []tenancy.Role) ([]tenancy.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range roles {
		if err := tenancy.ValidateRole(r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if _, exists := RoleByName(m.catalogLocked(), r.Name); exists {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		m.roles[r.ID] = r
	}
	return m.catalogLocked(), nil
}

func (m *MemoryStore) BootstrapSuperAdmin(ctx context.Context, p tenancy.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Level = tenancy.LevelSuperAdmin
	p.ClientID = nil
	if err := validateProfile(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := RoleByName(m.catalogLocked(), tenancy.RoleSuperAdmin)
	if !ok {
		return fmt.Errorf("%w: role catalog not seeded", ErrInvalid)
	}
	now := m.clock().UTC()
	if cur, exists := m.principals[p.ID]; exists {
		p.CreatedAt = cur.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.principals[p.ID] = p
	if m.assignments[p.ID] == nil {
		m.assignments[p.ID] = map[string]time.Time{}
	}
	if _, held := m.assignments[p.ID][role.ID]; !held {
		m.assignments[p.ID][role.ID] = now
	}
	return nil
}

// --- helpers (caller holds m.mu) ---

func (m *MemoryStore) subjectLocked(principalID string) policy.Subject {
	s := policy.Subject{ID: principalID}
	if principalID == "" {
		return s
	}
	p, ok := m.principals[principalID]
	s.Principal, s.Found = p, ok
	s.Roles = m.heldRolesLocked(principalID)
	return s
}

func (m *MemoryStore) adminOfLocked(principalID string) []string {
	var out []string
	for id, t := range m.tenants {
		if t.AdminUserID != nil && *t.AdminUserID == principalID {
			out = append(out, id)
		}
	}
	return out
}

func (m *MemoryStore) heldRolesLocked(principalID string) []tenancy.Role {
	out := make([]tenancy.Role, 0, len(m.assignments[principalID]))
	for roleID := range m.assignments[principalID] {
		if r, ok := m.roles[roleID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryStore) catalogLocked() []tenancy.Role {
	out := make([]tenancy.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cloneSettings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTenant(t tenancy.Tenant) tenancy.Tenant {
	t.Settings = cloneSettings(t.Settings)
	if t.CreatedBy != nil {
		v := *t.CreatedBy
		t.CreatedBy = &v
	}
	if t.AdminUserID != nil {
		v := *t.AdminUserID
		t.AdminUserID = &v
	}
	return t
}

func clonePrincipal(p tenancy.Principal) tenancy.Principal {
	if p.ClientID != nil {
		v := *p.ClientID
		p.ClientID = &v
	}
	return p
}
