package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests and local runs.
// FailWith makes every subsequent Append fail, which tests use to simulate an
// unreachable audit sink.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
	failErr error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *MemoryRepo) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, tenantID *string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if tenantID == nil || (rec.TenantID != nil && *rec.TenantID == *tenantID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Records returns a snapshot of everything appended so far.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
