package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/tenancy"
	"tenant-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit records.
// It has no update or delete methods.
type Repository interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, tenantID *string) ([]Record, error)
}

// AccessChecker is the subset of the policy engine that gates reads.
type AccessChecker interface {
	CanAccessClient(ctx context.Context, principalID string, tenantID *string) (bool, error)
}

// Service appends and reads audit records.
//
// Appends are never silent: a failed write is returned to the caller as an
// audit_write_failed error, after the primary effect has already committed.
type Service struct {
	repo   Repository
	access AccessChecker
	clock  func() time.Time
}

func NewService(repo Repository, access AccessChecker) *Service {
	return &Service{repo: repo, access: access, clock: time.Now}
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// Record appends one entry. The returned error, if any, is an *apperr.Error
// of kind audit_write_failed, or validation for a malformed record.
func (s *Service) Record(ctx context.Context, tenantID *string, performedBy string, action Action, details map[string]any) (Record, error) {
	if performedBy == "" || action == "" {
		return Record{}, apperr.Validation(ErrInvalidRecord.Error())
	}
	rec := Record{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PerformedBy: performedBy,
		Action:      action,
		Details:     details,
		CreatedAt:   s.clock().UTC(),
	}
	if s.repo == nil {
		return Record{}, apperr.AuditWriteFailed(string(action), tenancy.Deref(tenantID), errors.New("audit: repository not configured"))
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		logger.From(ctx).Error("audit append failed",
			slog.String("action", string(action)),
			slog.String("tenant_id", tenancy.Deref(tenantID)),
			slog.String("error", err.Error()),
		)
		return Record{}, apperr.AuditWriteFailed(string(action), tenancy.Deref(tenantID), err)
	}
	return rec, nil
}

// ListFor returns records of one tenant, or of every tenant for nil, as the
// caller is allowed to see them.
func (s *Service) ListFor(ctx context.Context, caller string, tenantID *string) ([]Record, error) {
	ok, err := s.access.CanAccessClient(ctx, caller, tenantID)
	if err != nil {
		return nil, apperr.Unavailable("policy engine", err)
	}
	if !ok {
		return nil, apperr.Forbidden("not permitted to read this audit log")
	}
	recs, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, apperr.Unavailable("audit log", err)
	}
	return recs, nil
}
