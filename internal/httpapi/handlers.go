package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tenant-platform/internal/admin"
	"tenant-platform/internal/apperr"
	"tenant-platform/internal/auth"
	"tenant-platform/internal/identity"
	"tenant-platform/internal/provisioning"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: bind input, take the caller from context, call the
// admin service, render the result or the typed error.
type Handlers struct {
	Admin       *admin.Service
	Auth        *auth.Manager
	Credentials identity.Authenticator
}

func caller(c *gin.Context) string {
	pid, _ := auth.PrincipalID(c.Request.Context())
	return pid
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		apperr.Abort(c, apperr.Validation("invalid json body"))
		return false
	}
	return true
}

// optionalQuery returns nil for an absent or blank query parameter.
func optionalQuery(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges an email and password for a token pair.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		apperr.Abort(c, apperr.Validation("email and password required"))
		return
	}
	pid, err := h.Credentials.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			apperr.Abort(c, apperr.Unauthorized("invalid credentials"))
			return
		}
		apperr.Abort(c, apperr.Unavailable("identity service", err))
		return
	}
	h.issue(c, pid)
}

// Refresh trades a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		apperr.Abort(c, apperr.Unauthorized("invalid refresh token"))
		return
	}
	h.issue(c, claims.PrincipalID)
}

func (h Handlers) issue(c *gin.Context, principalID string) {
	pair, err := h.Auth.IssuePair(time.Now(), principalID)
	if err != nil {
		apperr.Abort(c, apperr.Internal("token issuance failed", err))
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me returns the caller's own profile and roles.
func (h Handlers) Me(c *gin.Context) {
	pid := caller(c)
	p, err := h.Admin.GetUser(c.Request.Context(), pid, pid)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	roles, err := h.Admin.PrincipalRoles(c.Request.Context(), pid, pid)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": p, "roles": roles})
}

// --- Tenants ---

// CreateTenant provisions a tenant with its admin. A partial run answers
// 202 with the step and IDs needed to resume via resume_tenant_id.
func (h Handlers) CreateTenant(c *gin.Context) {
	var req provisioning.CreateTenantRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.Admin.CreateTenant(c.Request.Context(), caller(c), req)
	if res == nil || !committed(err) {
		apperr.Abort(c, err)
		return
	}
	writeResult(c, http.StatusCreated, res, err)
}

func (h Handlers) ListTenants(c *gin.Context) {
	out, err := h.Admin.ListTenants(c.Request.Context(), caller(c))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

func (h Handlers) ListProvisionalTenants(c *gin.Context) {
	out, err := h.Admin.ProvisionalTenants(c.Request.Context(), caller(c))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

func (h Handlers) GetTenant(c *gin.Context) {
	out, err := h.Admin.GetTenant(c.Request.Context(), caller(c), c.Param("tenant_id"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UpdateTenant(c *gin.Context) {
	var upd admin.TenantUpdate
	if !bind(c, &upd) {
		return
	}
	out, err := h.Admin.UpdateTenant(c.Request.Context(), caller(c), c.Param("tenant_id"), upd)
	if !committed(err) {
		apperr.Abort(c, err)
		return
	}
	writeResult(c, http.StatusOK, out, err)
}

// DiscardTenant deletes a tenant that never reached activation.
func (h Handlers) DiscardTenant(c *gin.Context) {
	err := h.Admin.DiscardTenant(c.Request.Context(), caller(c), c.Param("tenant_id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case committed(err):
		writeResult(c, http.StatusNoContent, gin.H{"discarded": c.Param("tenant_id")}, err)
	default:
		apperr.Abort(c, err)
	}
}

// --- Users ---

func (h Handlers) CreateUser(c *gin.Context) {
	var req provisioning.CreateUserRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.Admin.CreateUser(c.Request.Context(), caller(c), req)
	if res == nil || !committed(err) {
		apperr.Abort(c, err)
		return
	}
	writeResult(c, http.StatusCreated, res, err)
}

// ListUsers lists one tenant's principals via ?tenant_id=, or every
// principal when it is omitted.
func (h Handlers) ListUsers(c *gin.Context) {
	out, err := h.Admin.ListUsers(c.Request.Context(), caller(c), optionalQuery(c, "tenant_id"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h Handlers) ListTenantUsers(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	out, err := h.Admin.ListUsers(c.Request.Context(), caller(c), &tenantID)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h Handlers) GetUser(c *gin.Context) {
	out, err := h.Admin.GetUser(c.Request.Context(), caller(c), c.Param("principal_id"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UpdateProfile(c *gin.Context) {
	var upd admin.ProfileUpdate
	if !bind(c, &upd) {
		return
	}
	out, err := h.Admin.UpdateProfile(c.Request.Context(), caller(c), c.Param("principal_id"), upd)
	if !committed(err) {
		apperr.Abort(c, err)
		return
	}
	writeResult(c, http.StatusOK, out, err)
}

// --- Roles ---

func (h Handlers) ListRoles(c *gin.Context) {
	out, err := h.Admin.ListRoles(c.Request.Context(), caller(c))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

func (h Handlers) PrincipalRoles(c *gin.Context) {
	out, err := h.Admin.PrincipalRoles(c.Request.Context(), caller(c), c.Param("principal_id"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

func (h Handlers) AssignRole(c *gin.Context) {
	h.changeRole(c, h.Admin.AssignRole)
}

func (h Handlers) RemoveRole(c *gin.Context) {
	h.changeRole(c, h.Admin.RemoveRole)
}

func (h Handlers) changeRole(c *gin.Context, op func(ctx context.Context, caller, principalID, roleID string) error) {
	principalID, roleID := c.Param("principal_id"), c.Param("role_id")
	err := op(c.Request.Context(), caller(c), principalID, roleID)
	if !committed(err) {
		apperr.Abort(c, err)
		return
	}
	body := gin.H{"principal_id": principalID, "role_id": roleID}
	writeResult(c, http.StatusOK, body, err)
}

// --- Audit ---

// ListAudit returns the trail of one tenant via ?tenant_id=, or the whole
// trail for super admins.
func (h Handlers) ListAudit(c *gin.Context) {
	out, err := h.Admin.ListAudit(c.Request.Context(), caller(c), optionalQuery(c, "tenant_id"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

// ListTenantAudit returns the trail of the tenant in the path.
func (h Handlers) ListTenantAudit(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	out, err := h.Admin.ListAudit(c.Request.Context(), caller(c), &tenantID)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}
