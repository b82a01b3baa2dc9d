package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tenant-platform/internal/admin"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/auth"
	"tenant-platform/internal/config"
	"tenant-platform/internal/httpapi"
	"tenant-platform/internal/metrics"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/provisioning"

	"github.com/gin-gonic/gin"
)

const rootPassword = "Root-Passw0rd-Long"

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := config.Config{
		App:  config.AppConfig{Backend: config.BackendMemory},
		Auth: config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour, BcryptCost: 4},
	}
	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	be, err := openBackend(ctx, cfg, tokens)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	if _, err := admin.Bootstrap(ctx, be.store, be.directory, "root@platform.test", rootPassword); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	m := metrics.New()
	engine := policy.NewEngine(be.store, policy.WithObserver(m))
	auditLog := audit.NewService(be.auditRepo, engine)
	wf := provisioning.New(engine, be.store, be.directory, auditLog, provisioning.WithObserver(m))

	r := gin.New()
	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{Admin: admin.NewService(engine, be.store, auditLog, wf), Auth: tokens, Credentials: be.directory},
		policy:   engine,
		callers:  be.directory,
		rejects:  m,
		metrics:  m.Handler(),
		health:   be.health,
	})
	return r
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func login(t *testing.T, r *gin.Engine, email, password string) string {
	t.Helper()
	var pair auth.TokenPair
	if code := call(t, r, http.MethodPost, "/v1/auth/login", "", gin.H{"email": email, "password": password}, &pair); code != http.StatusOK {
		t.Fatalf("login %s: %d", email, code)
	}
	return pair.AccessToken
}

func TestPublicRoutes(t *testing.T) {
	r := newServer(t)

	if code := call(t, r, http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code := call(t, r, http.MethodGet, "/v1/tenants", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("tenants without token: %d", code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestTenantLifecycle(t *testing.T) {
	r := newServer(t)
	root := login(t, r, "root@platform.test", rootPassword)

	var created provisioning.TenantResult
	code := call(t, r, http.MethodPost, "/v1/tenants", root, gin.H{
		"tenant_name": "Acme",
		"admin_email": "admin@acme.test",
		"password":    "Acme-Admin-Passw0rd",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create tenant: %d", code)
	}
	if created.PasswordGenerated || created.Tenant.AdminUserID == nil {
		t.Fatalf("unexpected result %+v", created)
	}

	var provisional struct{ Tenants []json.RawMessage }
	if code := call(t, r, http.MethodGet, "/v1/tenants/provisional", root, nil, &provisional); code != http.StatusOK || len(provisional.Tenants) != 0 {
		t.Fatalf("provisional: %d %d", code, len(provisional.Tenants))
	}

	tenantAdmin := login(t, r, "admin@acme.test", "Acme-Admin-Passw0rd")
	var user provisioning.UserResult
	code = call(t, r, http.MethodPost, "/v1/users", tenantAdmin, gin.H{
		"email":      "user@acme.test",
		"tenant_id":  created.Tenant.ID,
		"role_names": []string{"Viewer"},
	}, &user)
	if code != http.StatusCreated || len(user.Roles) != 1 {
		t.Fatalf("create user: %d %+v", code, user)
	}

	var roles struct {
		Roles []admin.RoleView `json:"roles"`
	}
	if code := call(t, r, http.MethodGet, "/v1/roles", tenantAdmin, nil, &roles); code != http.StatusOK {
		t.Fatalf("roles: %d", code)
	}
	var superRoleID, analystID string
	for _, rv := range roles.Roles {
		switch rv.Name {
		case "Super Admin":
			superRoleID = rv.ID
		case "Analyst":
			analystID = rv.ID
		}
	}

	path := "/v1/users/" + user.Principal.ID + "/roles/"
	if code := call(t, r, http.MethodPut, path+analystID, tenantAdmin, nil, nil); code != http.StatusOK {
		t.Fatalf("assign analyst: %d", code)
	}
	if code := call(t, r, http.MethodPut, path+superRoleID, tenantAdmin, nil, nil); code != http.StatusForbidden {
		t.Fatalf("escalation to super admin: %d", code)
	}

	userToken := login(t, r, "user@acme.test", user.Password)
	if code := call(t, r, http.MethodPut, path+analystID, userToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("plain user managing roles: %d", code)
	}

	var trail struct {
		Records []audit.Record `json:"records"`
	}
	if code := call(t, r, http.MethodGet, "/v1/tenants/"+created.Tenant.ID+"/audit", tenantAdmin, nil, &trail); code != http.StatusOK {
		t.Fatalf("audit: %d", code)
	}
	actions := map[audit.Action]bool{}
	for _, rec := range trail.Records {
		actions[rec.Action] = true
	}
	if !actions[audit.ActionTenantCreated] || !actions[audit.ActionRoleAssigned] {
		t.Fatalf("missing audit actions: %v", actions)
	}
}
