package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tenant-platform/internal/policy"
	"tenant-platform/internal/tenancy"
	"tenant-platform/pkg/utils"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies schema.sql. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// PostgresStore implements Store on Postgres via database/sql (pgx stdlib).
//
// Reads carry row filters rendered by the policy package; writes re-check the
// caller's policy.Subject inside the same transaction.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	tenantColumns    = "t.id, t.name, t.contact_email, t.tenant_type, t.created_by, t.admin_user_id, t.settings, t.created_at, t.updated_at"
	principalColumns = "p.id, p.display_name, p.email, p.client_id, p.tenant_level, p.created_at, p.updated_at"
	roleColumns      = "r.id, r.name, r.description, r.permissions, r.level"
)

// --- policy.Reader ---

func (s *PostgresStore) LookupPrincipal(ctx context.Context, principalID string) (tenancy.Principal, bool, error) {
	return lookupPrincipal(ctx, s.db, principalID)
}

func (s *PostgresStore) HeldRoles(ctx context.Context, principalID string) ([]tenancy.Role, error) {
	return heldRoles(ctx, s.db, principalID)
}

func (s *PostgresStore) RoleCatalog(ctx context.Context) ([]tenancy.Role, error) {
	return listRoles(ctx, s.db)
}

// --- tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error) {
	if err := validateTenant(t); err != nil {
		return tenancy.Tenant{}, err
	}
	now := s.clock().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.AdminUserID = nil
	t.CreatedAt, t.UpdatedAt = now, now
	settings, err := encodeSettings(t.Settings)
	if err != nil {
		return tenancy.Tenant{}, err
	}

	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		if err := guardCreateTenant(subj); err != nil {
			return err
		}
		const q = `
INSERT INTO tenants (id, name, contact_email, tenant_type, created_by, admin_user_id, settings, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8)
`
		_, err = tx.ExecContext(ctx, q, t.ID, t.Name, t.ContactEmail, string(t.Type), t.CreatedBy, settings, t.CreatedAt, t.UpdatedAt)
		return mapPgError(err)
	})
	if err != nil {
		return tenancy.Tenant{}, err
	}
	return t, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, caller, tenantID string) (tenancy.Tenant, error) {
	q := fmt.Sprintf(`SELECT %s FROM tenants t WHERE t.id = $2 AND %s`, tenantColumns, policy.AccessClientSQL("$1", "t.id"))
	t, err := scanTenant(s.db.QueryRowContext(ctx, q, caller, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Tenant{}, s.missingOrForbidden(ctx, caller)
	}
	return t, err
}

func (s *PostgresStore) ListTenants(ctx context.Context, caller string) ([]tenancy.Tenant, error) {
	q := fmt.Sprintf(`SELECT %s FROM tenants t WHERE %s ORDER BY t.name`, tenantColumns, policy.AccessClientSQL("$1", "t.id"))
	rows, err := s.db.QueryContext(ctx, q, caller)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]tenancy.Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, caller string, t tenancy.Tenant) (tenancy.Tenant, error) {
	if err := validateTenant(t); err != nil {
		return tenancy.Tenant{}, err
	}
	settings, err := encodeSettings(t.Settings)
	if err != nil {
		return tenancy.Tenant{}, err
	}
	var out tenancy.Tenant
	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		if err := guardUpdateTenant(subj, t.ID); err != nil {
			return err
		}
		q := fmt.Sprintf(`
UPDATE tenants t SET name = $2, contact_email = $3, tenant_type = $4, settings = $5, updated_at = $6
WHERE t.id = $1
RETURNING %s`, tenantColumns)
		out, err = scanTenant(tx.QueryRowContext(ctx, q, t.ID, t.Name, t.ContactEmail, string(t.Type), settings, s.clock().UTC()))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return mapPgError(err)
	})
	return out, err
}

func (s *PostgresStore) SetTenantAdmin(ctx context.Context, caller, tenantID, principalID string) (tenancy.Tenant, error) {
	var out tenancy.Tenant
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !subj.SuperAdmin() {
			return ErrForbidden
		}
		t, err := scanTenant(tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM tenants t WHERE t.id = $1 FOR UPDATE`, tenantColumns), tenantID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		p, ok, err := lockPrincipal(ctx, tx, principalID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: admin principal has no profile", ErrInvalid)
		}
		if err := validateActivation(t, p); err != nil {
			return err
		}
		q := fmt.Sprintf(`UPDATE tenants t SET admin_user_id = $2, updated_at = $3 WHERE t.id = $1 RETURNING %s`, tenantColumns)
		out, err = scanTenant(tx.QueryRowContext(ctx, q, tenantID, principalID, s.clock().UTC()))
		return err
	})
	return out, err
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, caller, tenantID string) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !subj.SuperAdmin() {
			return ErrForbidden
		}
		// principals and their role_assignments cascade.
		res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- principals ---

func (s *PostgresStore) UpsertProfile(ctx context.Context, caller string, p tenancy.Principal) (tenancy.Principal, error) {
	if err := validateProfile(p); err != nil {
		return tenancy.Principal{}, err
	}
	var out tenancy.Principal
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		var prev *tenancy.Principal
		cur, ok, err := lockPrincipal(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if ok {
			prev = &cur
		}
		if err := guardWriteProfile(subj, p, prev); err != nil {
			return err
		}
		adminOf, err := lockAdminTenants(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := guardActiveAdmin(p, prev, adminOf); err != nil {
			return err
		}
		now := s.clock().UTC()
		q := fmt.Sprintf(`
INSERT INTO principals AS p (id, display_name, email, client_id, tenant_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (id) DO UPDATE SET
  display_name = EXCLUDED.display_name,
  email = EXCLUDED.email,
  client_id = EXCLUDED.client_id,
  tenant_level = EXCLUDED.tenant_level,
  updated_at = EXCLUDED.updated_at
RETURNING %s`, principalColumns)
		out, err = scanPrincipal(tx.QueryRowContext(ctx, q, p.ID, p.DisplayName, p.Email, p.ClientID, string(p.Level), now))
		return mapPgError(err)
	})
	return out, err
}

func (s *PostgresStore) GetPrincipal(ctx context.Context, caller, principalID string) (tenancy.Principal, error) {
	q := fmt.Sprintf(`SELECT %s FROM principals p WHERE p.id = $2 AND (p.id = $1 OR %s)`,
		principalColumns, policy.AccessClientSQL("$1", "p.client_id"))
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, q, caller, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Principal{}, s.missingOrForbidden(ctx, caller)
	}
	return p, err
}

func (s *PostgresStore) ListPrincipals(ctx context.Context, caller string, tenantID *string) ([]tenancy.Principal, error) {
	subj, err := loadSubject(ctx, s.db, caller)
	if err != nil {
		return nil, err
	}
	if !subj.CanAccessClient(tenantID) {
		return nil, ErrForbidden
	}
	q := fmt.Sprintf(`SELECT %s FROM principals p WHERE ($2::text IS NULL OR p.client_id = $2) AND %s ORDER BY p.email`,
		principalColumns, policy.AccessClientSQL("$1", "p.client_id"))
	rows, err := s.db.QueryContext(ctx, q, caller, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]tenancy.Principal, 0)
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- roles ---

func (s *PostgresStore) ListRoles(ctx context.Context, caller string) ([]tenancy.Role, error) {
	subj, err := loadSubject(ctx, s.db, caller)
	if err != nil {
		return nil, err
	}
	if !subj.Found && !subj.SuperAdmin() {
		return nil, ErrForbidden
	}
	return listRoles(ctx, s.db)
}

func (s *PostgresStore) AssignRole(ctx context.Context, caller, principalID, roleID string) error {
	return s.changeRole(ctx, caller, principalID, roleID,
		`INSERT INTO role_assignments (principal_id, role_id, created_at) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, true)
}

func (s *PostgresStore) RemoveRole(ctx context.Context, caller, principalID, roleID string) error {
	return s.changeRole(ctx, caller, principalID, roleID,
		`DELETE FROM role_assignments WHERE principal_id = $1 AND role_id = $2`, false)
}

func (s *PostgresStore) changeRole(ctx context.Context, caller, principalID, roleID, stmt string, withTime bool) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		subj, err := loadSubject(ctx, tx, caller)
		if err != nil {
			return err
		}
		target, ok, err := lookupPrincipal(ctx, tx, principalID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: principal", ErrNotFound)
		}
		role, err := scanRole(tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM roles r WHERE r.id = $1`, roleColumns), roleID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role", ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := guardRoleChange(subj, target, role); err != nil {
			return err
		}
		args := []any{principalID, roleID}
		if withTime {
			args = append(args, s.clock().UTC())
		}
		_, err = tx.ExecContext(ctx, stmt, args...)
		return mapPgError(err)
	})
}

func (s *PostgresStore) PrincipalRoles(ctx context.Context, caller, principalID string) ([]tenancy.Role, error) {
	subj, err := loadSubject(ctx, s.db, caller)
	if err != nil {
		return nil, err
	}
	target, ok, err := lookupPrincipal(ctx, s.db, principalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if err := guardReadPrincipal(subj, target); err != nil {
		return nil, err
	}
	return heldRoles(ctx, s.db, principalID)
}

// --- system ---

func (s *PostgresStore) SeedRoles(ctx context.Context, roles []tenancy.Role) ([]tenancy.Role, error) {
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, r := range roles {
			if err := tenancy.ValidateRole(r); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			perms, err := json.Marshal(r.Permissions)
			if err != nil {
				return err
			}
			const q = `
INSERT INTO roles (id, name, description, permissions, level)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (name) DO NOTHING
`
			if _, err := tx.ExecContext(ctx, q, r.ID, r.Name, r.Description, perms, string(r.Level)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listRoles(ctx, s.db)
}

func (s *PostgresStore) BootstrapSuperAdmin(ctx context.Context, p tenancy.Principal) error {
	p.Level = tenancy.LevelSuperAdmin
	p.ClientID = nil
	if err := validateProfile(p); err != nil {
		return err
	}
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		now := s.clock().UTC()
		const upsert = `
INSERT INTO principals (id, display_name, email, client_id, tenant_level, created_at, updated_at)
VALUES ($1,$2,$3,NULL,'super_admin',$4,$4)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email,
  client_id = NULL, tenant_level = 'super_admin', updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsert, p.ID, p.DisplayName, p.Email, now); err != nil {
			return err
		}
		const assign = `
INSERT INTO role_assignments (principal_id, role_id, created_at)
SELECT $1, r.id, $3 FROM roles r WHERE r.name = $2
ON CONFLICT DO NOTHING
`
		res, err := tx.ExecContext(ctx, assign, p.ID, tenancy.RoleSuperAdmin, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			held, err := heldRoles(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if _, ok := RoleByName(held, tenancy.RoleSuperAdmin); !ok {
				return fmt.Errorf("%w: role catalog not seeded", ErrInvalid)
			}
		}
		return nil
	})
}

// --- helpers ---

func (s *PostgresStore) missingOrForbidden(ctx context.Context, caller string) error {
	subj, err := loadSubject(ctx, s.db, caller)
	if err != nil {
		return err
	}
	if subj.SuperAdmin() {
		return ErrNotFound
	}
	return ErrForbidden
}

func loadSubject(ctx context.Context, q querier, caller string) (policy.Subject, error) {
	subj := policy.Subject{ID: caller}
	if caller == "" {
		return subj, nil
	}
	p, ok, err := lookupPrincipal(ctx, q, caller)
	if err != nil {
		return policy.Subject{}, err
	}
	roles, err := heldRoles(ctx, q, caller)
	if err != nil {
		return policy.Subject{}, err
	}
	subj.Principal, subj.Found, subj.Roles = p, ok, roles
	return subj, nil
}

func lookupPrincipal(ctx context.Context, q querier, id string) (tenancy.Principal, bool, error) {
	p, err := scanPrincipal(q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM principals p WHERE p.id = $1`, principalColumns), id))
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Principal{}, false, nil
	}
	if err != nil {
		return tenancy.Principal{}, false, err
	}
	return p, true, nil
}

// lockPrincipal reads a profile with FOR UPDATE, serializing activation
// against concurrent profile writes.
func lockPrincipal(ctx context.Context, tx *sql.Tx, id string) (tenancy.Principal, bool, error) {
	p, err := scanPrincipal(tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM principals p WHERE p.id = $1 FOR UPDATE`, principalColumns), id))
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.Principal{}, false, nil
	}
	if err != nil {
		return tenancy.Principal{}, false, err
	}
	return p, true, nil
}

// lockAdminTenants returns the tenants naming principalID as their admin,
// locking those rows for the rest of the transaction.
func lockAdminTenants(ctx context.Context, tx *sql.Tx, principalID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tenants WHERE admin_user_id = $1 FOR UPDATE`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func heldRoles(ctx context.Context, q querier, principalID string) ([]tenancy.Role, error) {
	query := fmt.Sprintf(`
SELECT %s FROM roles r
JOIN role_assignments ra ON ra.role_id = r.id
WHERE ra.principal_id = $1
ORDER BY r.name`, roleColumns)
	return queryRoles(ctx, q, query, principalID)
}

func listRoles(ctx context.Context, q querier) ([]tenancy.Role, error) {
	return queryRoles(ctx, q, fmt.Sprintf(`SELECT %s FROM roles r ORDER BY r.name`, roleColumns))
}

func queryRoles(ctx context.Context, q querier, query string, args ...any) ([]tenancy.Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]tenancy.Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanTenant(row rowScanner) (tenancy.Tenant, error) {
	var (
		t                    tenancy.Tenant
		tenantType           string
		createdBy, adminUser sql.NullString
		settings             []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.ContactEmail, &tenantType, &createdBy, &adminUser, &settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return tenancy.Tenant{}, err
	}
	t.Type = tenancy.TenantType(tenantType)
	t.CreatedBy = nullToPtr(createdBy)
	t.AdminUserID = nullToPtr(adminUser)
	t.Settings = map[string]string{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return tenancy.Tenant{}, fmt.Errorf("store: decode settings: %w", err)
		}
	}
	return t, nil
}

func scanPrincipal(row rowScanner) (tenancy.Principal, error) {
	var (
		p        tenancy.Principal
		clientID sql.NullString
		level    string
	)
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &clientID, &level, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return tenancy.Principal{}, err
	}
	p.ClientID = nullToPtr(clientID)
	p.Level = tenancy.TenantLevel(level)
	return p, nil
}

func scanRole(row rowScanner) (tenancy.Role, error) {
	var (
		r     tenancy.Role
		perms []byte
		level string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &perms, &level); err != nil {
		return tenancy.Role{}, err
	}
	if err := r.Permissions.UnmarshalJSON(perms); err != nil {
		return tenancy.Role{}, fmt.Errorf("store: decode permissions for role %q: %w", r.Name, err)
	}
	r.Level = tenancy.TenantLevel(level)
	return r, nil
}

func encodeSettings(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func nullToPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	switch code, constraint := utils.PgErrorCode(err); code {
	case utils.PgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, constraint)
	case utils.PgForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrInvalid, constraint)
	}
	return err
}
