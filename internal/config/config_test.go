package config

import (
	"testing"
	"time"

	"go.uber.org/multierr"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "tenants"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsEveryMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	// APP_ENV, APP_PORT, DB_HOST, DB_PORT, DB_USER, DB_NAME, JWT_SECRET
	if n := len(multierr.Errors(err)); n < 7 {
		t.Fatalf("expected errors to be accumulated, got %d: %v", n, err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.App.Backend != BackendPostgres {
		t.Fatalf("expected postgres backend default, got %q", c.App.Backend)
	}
	if c.Provisioning.StepTimeout != 10*time.Second {
		t.Fatalf("expected 10s step timeout default, got %s", c.Provisioning.StepTimeout)
	}
}

func TestValidate_MemoryBackendSkipsDB(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "dev", Port: 8080, Backend: BackendMemory},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis should be disabled without REDIS_HOST")
	}
}

func TestValidate_MemoryBackendRejectedInProduction(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.App.Backend = BackendMemory
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_ParsesProvisioningEnv(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PROVISIONING_STEP_TIMEOUT", "3s")
	t.Setenv("AUDIT_USER_CREATION", "false")
	t.Setenv("PROVISIONING_MAX_IN_FLIGHT", "2")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Provisioning.StepTimeout != 3*time.Second || c.Provisioning.AuditUserCreation || c.Provisioning.MaxInFlightPerCaller != 2 {
		t.Fatalf("unexpected provisioning config %+v", c.Provisioning)
	}
}

func TestLoad_AccumulatesParseErrors(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("PROVISIONING_STEP_TIMEOUT", "soon")
	t.Setenv("AUDIT_USER_CREATION", "maybe")

	_, err := Load()
	if n := len(multierr.Errors(err)); n != 3 {
		t.Fatalf("expected 3 parse errors, got %d: %v", n, err)
	}
}

func TestValidate_BootstrapNeedsBothFields(t *testing.T) {
	c := validLocal()
	c.Bootstrap.AdminEmail = "root@platform.test"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for email without password")
	}
	c.Bootstrap.AdminPassword = "Root-Passw0rd-Long"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Bootstrap.Enabled() {
		t.Fatalf("expected bootstrap enabled")
	}
}

func TestValidate_BcryptCostRange(t *testing.T) {
	c := validLocal()
	c.Auth.BcryptCost = 2
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for cost below bcrypt minimum")
	}
	c.Auth.BcryptCost = 12
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
