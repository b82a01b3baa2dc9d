package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresRepo appends to audit_records. The table rejects UPDATE and DELETE
// with a trigger, so this type only ever inserts.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("audit: encode details: %w", err)
	}
	if rec.Details == nil {
		details = []byte("{}")
	}
	const q = `
INSERT INTO audit_records (id, tenant_id, performed_by, action, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err = r.db.ExecContext(ctx, q, rec.ID, rec.TenantID, rec.PerformedBy, string(rec.Action), details, rec.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, tenantID *string) ([]Record, error) {
	const q = `
SELECT id, tenant_id, performed_by, action, details, created_at
FROM audit_records
WHERE ($1::text IS NULL OR tenant_id = $1)
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec     Record
			tenant  sql.NullString
			action  string
			details []byte
		)
		if err := rows.Scan(&rec.ID, &tenant, &rec.PerformedBy, &action, &details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if tenant.Valid {
			v := tenant.String
			rec.TenantID = &v
		}
		rec.Action = Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("audit: decode details of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
