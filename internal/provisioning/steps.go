package provisioning

import (
	"context"
	"log/slog"
	"time"

	"tenant-platform/pkg/logger"
)

// Step names a position in a provisioning sequence. Failures at or after
// the first side effect report the step they stopped at.
type Step int

const (
	StepAuthorize Step = iota + 1
	StepCreateTenant
	StepResolvePassword
	StepCreateIdentity
	StepWriteProfile
	StepAssignRole
	StepActivateTenant
	StepRecordAudit
	StepAssignRoles
	StepDiscardTenant
)

var stepNames = map[Step]string{
	StepAuthorize:       "authorize",
	StepCreateTenant:    "create_tenant",
	StepResolvePassword: "resolve_password",
	StepCreateIdentity:  "create_identity",
	StepWriteProfile:    "write_profile",
	StepAssignRole:      "assign_role",
	StepActivateTenant:  "activate_tenant",
	StepRecordAudit:     "record_audit",
	StepAssignRoles:     "assign_roles",
	StepDiscardTenant:   "discard_tenant",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

const (
	workflowCreateTenant  = "create_tenant_with_admin"
	workflowCreateUser    = "create_user"
	workflowDiscardTenant = "discard_tenant"
)

// run tracks one workflow invocation: which IDs exist so far, for logs and
// for the resume data carried by a partial failure.
type run struct {
	w        *Workflow
	workflow string
	caller   string

	tenantID    string
	principalID string
}

func (w *Workflow) newRun(workflow, caller string) *run {
	return &run{w: w, workflow: workflow, caller: caller}
}

// step runs fn under the per-step timeout. A deadline surfaces as the error
// fn returns, so a timed out step fails like any other.
func (r *run) step(ctx context.Context, s Step, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.w.stepTimeout)
	defer cancel()

	start := time.Now()
	err := fn(stepCtx)
	elapsed := time.Since(start)
	r.w.observer.ObserveStep(r.workflow, s.String(), err, elapsed)

	attrs := []any{
		slog.String("workflow", r.workflow),
		slog.String("step", s.String()),
		slog.String("caller", r.caller),
		slog.String("tenant_id", r.tenantID),
		slog.String("principal_id", r.principalID),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}
	l := logger.From(ctx)
	if err != nil {
		l.Warn("provisioning step failed", append(attrs, slog.String("error", err.Error()))...)
		return err
	}
	l.Info("provisioning step completed", attrs...)
	return nil
}
