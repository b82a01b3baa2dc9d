package main

import (
	"context"
	"net/http"

	"tenant-platform/internal/auth"
	"tenant-platform/internal/httpapi"
	"tenant-platform/internal/rbac"
	"tenant-platform/internal/tenancy"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers httpapi.Handlers
	policy   rbac.Checker
	callers  auth.CallerResolver
	limiter  httpapi.Limiter
	rejects  httpapi.RejectObserver
	metrics  http.Handler
	health   func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic: the rbac gates reject early and the
// admin service re-checks every rule.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	r.GET("/healthz", func(c *gin.Context) {
		if err := d.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.metrics != nil {
		r.GET("/metrics", gin.WrapH(d.metrics))
	}

	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	v1 := r.Group("/v1")
	v1.Use(auth.RequireCaller(d.callers))
	v1.GET("/me", h.Me)

	superAdmin := rbac.RequireSuperAdmin(d.policy)
	tenantAccess := rbac.RequireTenantAccess(d.policy, "tenant_id")
	inFlight := httpapi.LimitInFlight(d.limiter, d.rejects)

	tenants := v1.Group("/tenants")
	{
		tenants.POST("", superAdmin, inFlight, h.CreateTenant)
		tenants.GET("", h.ListTenants)
		tenants.GET("/provisional", superAdmin, h.ListProvisionalTenants)
		tenants.GET("/:tenant_id", tenantAccess, h.GetTenant)
		tenants.PATCH("/:tenant_id", tenantAccess, h.UpdateTenant)
		tenants.DELETE("/:tenant_id", superAdmin, h.DiscardTenant)
		tenants.GET("/:tenant_id/users", tenantAccess, h.ListTenantUsers)
		tenants.GET("/:tenant_id/audit", tenantAccess, h.ListTenantAudit)
	}

	manageRoles := rbac.RequireAnyPermission(d.policy, tenancy.PermManageUsers, tenancy.PermManageRoles)
	users := v1.Group("/users")
	{
		users.POST("", inFlight, h.CreateUser)
		users.GET("", h.ListUsers)
		users.GET("/:principal_id", h.GetUser)
		users.PATCH("/:principal_id", h.UpdateProfile)
		users.GET("/:principal_id/roles", h.PrincipalRoles)
		users.PUT("/:principal_id/roles/:role_id", manageRoles, h.AssignRole)
		users.DELETE("/:principal_id/roles/:role_id", manageRoles, h.RemoveRole)
	}

	v1.GET("/roles", h.ListRoles)
	v1.GET("/audit", h.ListAudit)
}
