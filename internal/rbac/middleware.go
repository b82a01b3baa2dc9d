// Package rbac gates routes on policy predicates before a handler runs.
// The services re-check everything; these gates only reject early.
package rbac

import (
	"context"

	"tenant-platform/internal/apperr"
	"tenant-platform/internal/auth"
	"tenant-platform/internal/tenancy"

	"github.com/gin-gonic/gin"
)

// Checker is satisfied by *policy.Engine.
type Checker interface {
	IsSuperAdmin(ctx context.Context, principalID string) (bool, error)
	CanAccessClient(ctx context.Context, principalID string, tenantID *string) (bool, error)
	HasPermission(ctx context.Context, principalID string, perm tenancy.Permission) (bool, error)
}

type decision func(ctx context.Context, c *gin.Context, principalID string) (bool, error)

func gate(d decision, denied string) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, err := auth.PrincipalID(c.Request.Context())
		if err != nil {
			apperr.Abort(c, apperr.Unauthorized("caller identity required"))
			return
		}
		ok, err := d(c.Request.Context(), c, pid)
		if err != nil {
			apperr.Abort(c, apperr.Unavailable("policy engine", err))
			return
		}
		if !ok {
			apperr.Abort(c, apperr.Forbidden(denied))
			return
		}
		c.Next()
	}
}

// RequireSuperAdmin admits holders of the Super Admin role only.
func RequireSuperAdmin(p Checker) gin.HandlerFunc {
	return gate(func(ctx context.Context, _ *gin.Context, pid string) (bool, error) {
		return p.IsSuperAdmin(ctx, pid)
	}, "super admin required")
}

// RequireTenantAccess admits callers that may access the tenant named by
// the path parameter.
func RequireTenantAccess(p Checker, param string) gin.HandlerFunc {
	return gate(func(ctx context.Context, c *gin.Context, pid string) (bool, error) {
		tenantID := c.Param(param)
		if tenantID == "" {
			return false, nil
		}
		return p.CanAccessClient(ctx, pid, &tenantID)
	}, "not permitted for this tenant")
}

// RequireAnyPermission admits callers holding at least one of perms.
// Super admins hold every permission through their role.
func RequireAnyPermission(p Checker, perms ...tenancy.Permission) gin.HandlerFunc {
	return gate(func(ctx context.Context, _ *gin.Context, pid string) (bool, error) {
		for _, perm := range perms {
			ok, err := p.HasPermission(ctx, pid, perm)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}, "permission required")
}
