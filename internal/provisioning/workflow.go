// Package provisioning creates tenants with their first administrator, and
// standalone users, across the identity directory, the tenant store and the
// audit log.
//
// There is no cross-system transaction. Each sequence moves forward one step
// at a time; a failure after the first side effect returns a partial
// provisioning error naming the step and the IDs created so far, and the
// caller may resume. Nothing is rolled back automatically.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/identity"
	"tenant-platform/internal/store"
	"tenant-platform/internal/tenancy"

	"github.com/go-playground/validator/v10"
)

// Authorizer is the subset of the policy engine the workflows consult.
type Authorizer interface {
	IsSuperAdmin(ctx context.Context, principalID string) (bool, error)
	CanAccessClient(ctx context.Context, principalID string, tenantID *string) (bool, error)
	HasPermission(ctx context.Context, principalID string, perm tenancy.Permission) (bool, error)
}

// Recorder appends audit records. *audit.Service satisfies it.
type Recorder interface {
	Record(ctx context.Context, tenantID *string, performedBy string, action audit.Action, details map[string]any) (audit.Record, error)
}

// Observer receives one call per executed step.
type Observer interface {
	ObserveStep(workflow, step string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(string, string, error, time.Duration) {}

const defaultStepTimeout = 10 * time.Second

type Workflow struct {
	authz Authorizer
	store store.Store
	dir   identity.Directory
	audit Recorder

	stepTimeout       time.Duration
	auditUserCreation bool
	observer          Observer
	generatePassword  func() (string, error)
	validate          *validator.Validate
}

type Option func(*Workflow)

func WithStepTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.stepTimeout = d
		}
	}
}

func WithAuditUserCreation(on bool) Option { return func(w *Workflow) { w.auditUserCreation = on } }

func WithObserver(o Observer) Option { return func(w *Workflow) { w.observer = o } }

// WithPasswordGenerator replaces GeneratePassword; tests use it to force
// failures.
func WithPasswordGenerator(fn func() (string, error)) Option {
	return func(w *Workflow) { w.generatePassword = fn }
}

func New(authz Authorizer, st store.Store, dir identity.Directory, rec Recorder, opts ...Option) *Workflow {
	w := &Workflow{
		authz:             authz,
		store:             st,
		dir:               dir,
		audit:             rec,
		stepTimeout:       defaultStepTimeout,
		auditUserCreation: true,
		observer:          nopObserver{},
		generatePassword:  GeneratePassword,
		validate:          validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// resolvePassword returns the supplied password or a generated one. Supplied
// passwords are validated before any side effect, so only generation can
// fail here.
func (w *Workflow) resolvePassword(supplied string) (pw string, generated bool, err error) {
	if supplied != "" {
		return supplied, false, nil
	}
	pw, err = w.generatePassword()
	if err != nil {
		return "", false, fmt.Errorf("generate password: %w", err)
	}
	return pw, true, nil
}

// createOrReuseIdentity creates the login identity. On a duplicate email it
// reuses the existing principal only when an interrupted run left it
// behind: it has no profile yet, or pendingAdminOf names the provisional
// tenant whose pending admin it already is. Anything else is a conflict and
// the existing credential is left alone. Reused identities get the freshly
// resolved password when the directory supports it; reset reports whether
// it did.
func (w *Workflow) createOrReuseIdentity(ctx context.Context, email, password, pendingAdminOf string, metadata map[string]string) (id string, resumed, reset bool, err error) {
	id, err = w.dir.CreatePrincipal(ctx, email, password, metadata)
	if err == nil {
		return id, false, true, nil
	}
	var dup *identity.DuplicateEmailError
	if !errors.As(err, &dup) {
		return "", false, false, err
	}

	existing, found, err := w.store.LookupPrincipal(ctx, dup.ExistingID)
	if err != nil {
		return "", false, false, err
	}
	if found && !pendingAdmin(existing, pendingAdminOf) {
		return "", false, false, apperr.Conflict("email already belongs to another account", nil)
	}
	setter, ok := w.dir.(identity.PasswordSetter)
	if !ok {
		return dup.ExistingID, true, false, nil
	}
	if err := setter.SetPassword(ctx, dup.ExistingID, password); err != nil {
		return "", false, false, err
	}
	return dup.ExistingID, true, true, nil
}

// pendingAdmin reports whether p is the not yet activated admin of tenantID.
// Callers have already checked that the tenant is provisional.
func pendingAdmin(p tenancy.Principal, tenantID string) bool {
	return tenantID != "" && p.Level == tenancy.LevelTenantAdmin && p.BelongsTo(tenantID)
}

func (w *Workflow) authorizeSuperAdmin(ctx context.Context, caller string) error {
	if caller == "" {
		return apperr.Unauthorized("caller identity required")
	}
	ok, err := w.authz.IsSuperAdmin(ctx, caller)
	if err != nil {
		return apperr.Unavailable("policy engine", err)
	}
	if !ok {
		return apperr.Forbidden("super admin required")
	}
	return nil
}

// validationError renders validator failures without echoing field values.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return apperr.Validation(strings.Join(msgs, "; "))
}

// partial wraps a failure after the first side effect. Errors that are
// already typed as conflicts keep their kind but gain the resume IDs.
func (r *run) partial(s Step, err error) error {
	if e := apperr.As(err); e != nil && e.Kind == apperr.KindConflict {
		e.Step, e.TenantID, e.PrincipalID = s.String(), r.tenantID, r.principalID
		return e
	}
	return apperr.Partial(s.String(), r.tenantID, r.principalID, err)
}

// auditFailure keeps an audit_write_failed error as is and types anything
// else as one.
func auditFailure(action audit.Action, tenantID string, err error) error {
	if apperr.KindOf(err) == apperr.KindAuditWriteFailed {
		return err
	}
	return apperr.AuditWriteFailed(string(action), tenantID, err)
}
