package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tenant-platform/pkg/utils"

	"github.com/google/uuid"
)

// PostgresDirectory stores identities in the identities table.
type PostgresDirectory struct {
	db     *sql.DB
	tokens TokenVerifier
	cost   int
	clock  func() time.Time
}

func NewPostgresDirectory(db *sql.DB, tokens TokenVerifier, cost int) *PostgresDirectory {
	return &PostgresDirectory{db: db, tokens: tokens, cost: cost, clock: time.Now}
}

func (d *PostgresDirectory) CreatePrincipal(ctx context.Context, email, password string, metadata map[string]string) (string, error) {
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return "", err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := d.clock().UTC()

	const q = `
INSERT INTO identities (id, email, password_hash, metadata, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
`
	_, err = d.db.ExecContext(ctx, q, id, normalizeEmail(email), string(hash), md, now)
	if err == nil {
		return id, nil
	}
	if code, _ := utils.PgErrorCode(err); code == utils.PgUniqueViolation {
		existing, lookupErr := d.idByEmail(ctx, email)
		if lookupErr != nil {
			return "", lookupErr
		}
		return "", &DuplicateEmailError{Email: email, ExistingID: existing}
	}
	return "", err
}

func (d *PostgresDirectory) CallerIdentity(ctx context.Context, token string) (string, error) {
	id, err := verifyToken(d.tokens, token)
	if err != nil {
		return "", err
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists); err != nil {
		return "", err
	}
	if !exists {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func (d *PostgresDirectory) SetPassword(ctx context.Context, principalID, password string) error {
	hash, err := hashPassword(password, d.cost)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		principalID, string(hash), d.clock().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownPrincipal
	}
	return nil
}

func (d *PostgresDirectory) Authenticate(ctx context.Context, email, password string) (string, error) {
	var id, hash string
	err := d.db.QueryRowContext(ctx, `SELECT id, password_hash FROM identities WHERE lower(btrim(email)) = $1`,
		normalizeEmail(email)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := checkPassword([]byte(hash), password); err != nil {
		return "", err
	}
	return id, nil
}

func (d *PostgresDirectory) idByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx, `SELECT id FROM identities WHERE lower(btrim(email)) = $1`, normalizeEmail(email)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("identity: resolve duplicate email: %w", err)
	}
	return id, nil
}
