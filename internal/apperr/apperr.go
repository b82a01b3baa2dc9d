package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable failure category surfaced to callers.
type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindForbidden             Kind = "forbidden"
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindPartialProvisioning   Kind = "partial_provisioning"
	KindAuditWriteFailed      Kind = "audit_write_failed"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindTooManyRequests       Kind = "too_many_requests"
	KindInternal              Kind = "internal"
)

var httpStatusMap = map[Kind]int{
	KindUnauthorized:          http.StatusUnauthorized,        // 401
	KindForbidden:             http.StatusForbidden,           // 403
	KindValidation:            http.StatusBadRequest,          // 400
	KindNotFound:              http.StatusNotFound,            // 404
	KindConflict:              http.StatusConflict,            // 409
	KindPartialProvisioning:   http.StatusAccepted,            // 202
	KindAuditWriteFailed:      http.StatusMultiStatus,         // 207
	KindDependencyUnavailable: http.StatusServiceUnavailable,  // 503
	KindTooManyRequests:       http.StatusTooManyRequests,     // 429
	KindInternal:              http.StatusInternalServerError, // 500
}

// Error is the typed failure returned by every caller-facing operation.
//
// Message is human readable and must never contain credentials.
// Step, TenantID and PrincipalID carry resume data for partial provisioning.
type Error struct {
	Kind        Kind
	Message     string
	Step        string
	TenantID    string
	PrincipalID string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so errors.Is(err, apperr.Forbidden("")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// HTTPStatus returns the status code for this error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

func Forbidden(msg string) *Error { return newError(KindForbidden, msg, nil) }

func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }

func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

func Conflict(msg string, err error) *Error { return newError(KindConflict, msg, err) }

func TooManyRequests(msg string) *Error { return newError(KindTooManyRequests, msg, nil) }

func Internal(msg string, err error) *Error { return newError(KindInternal, msg, err) }

// Unavailable wraps a collaborator failure (unreachable or timed out).
func Unavailable(dependency string, err error) *Error {
	return newError(KindDependencyUnavailable, dependency+" unavailable", err)
}

// Partial reports a multi-step workflow that stopped at step, with whatever
// IDs were already created.
func Partial(step, tenantID, principalID string, err error) *Error {
	return &Error{
		Kind:        KindPartialProvisioning,
		Message:     fmt.Sprintf("provisioning stopped at step %s", step),
		Step:        step,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Err:         err,
	}
}

// AuditWriteFailed reports a committed primary effect whose audit append failed.
func AuditWriteFailed(action, tenantID string, err error) *Error {
	return &Error{
		Kind:     KindAuditWriteFailed,
		Message:  fmt.Sprintf("audit append for %s failed; primary effect committed", action),
		TenantID: tenantID,
		Err:      err,
	}
}

// KindOf extracts the kind of err. Untyped errors are internal; bare context
// deadline/cancel errors count as an unavailable dependency.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDependencyUnavailable
	}
	return KindInternal
}

// As returns err as *Error, wrapping untyped errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if KindOf(err) == KindDependencyUnavailable {
		return Unavailable("dependency", err)
	}
	return Internal("internal error", err)
}
