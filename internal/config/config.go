package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Config holds all configuration required by the API process and tenantctl.
// Values come from the environment, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Provisioning ProvisioningConfig
	Bootstrap    BootstrapConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Backend selects the store implementation: "postgres" or "memory".
	Backend string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// BcryptCost for stored password hashes; zero means bcrypt.DefaultCost.
	BcryptCost int
}

type ProvisioningConfig struct {
	// StepTimeout bounds every collaborator call made by a workflow step.
	StepTimeout time.Duration
	// AuditUserCreation records user_created for standalone user creation.
	AuditUserCreation bool
	// MaxInFlightPerCaller caps concurrent provisioning requests per caller.
	// Zero disables the cap.
	MaxInFlightPerCaller int
	// InFlightTTL expires a leaked in-flight slot.
	InFlightTTL time.Duration
}

// BootstrapConfig names the first super admin. When both fields are set the
// API ensures that account exists at startup; tenantctl bootstrap takes the
// same values as defaults.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

func (b BootstrapConfig) Enabled() bool {
	return b.AdminEmail != "" && b.AdminPassword != ""
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Load reads the environment. A .env file in the working directory, or the
// file named by ENV_FILE, is applied first without overriding real env vars.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	c := Config{}
	var parseErr error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErr = intVar(parseErr, "APP_PORT", 0)
	c.App.Backend = strings.TrimSpace(os.Getenv("STORE_BACKEND"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErr = intVar(parseErr, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErr = intVar(parseErr, "REDIS_PORT", 6379)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErr = durationVar(parseErr, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErr = durationVar(parseErr, "JWT_REFRESH_TTL")
	c.Auth.BcryptCost, parseErr = intVar(parseErr, "BCRYPT_COST", 0)

	c.Provisioning.StepTimeout, parseErr = durationVar(parseErr, "PROVISIONING_STEP_TIMEOUT")
	c.Provisioning.AuditUserCreation, parseErr = boolVar(parseErr, "AUDIT_USER_CREATION", true)
	c.Provisioning.MaxInFlightPerCaller, parseErr = intVar(parseErr, "PROVISIONING_MAX_IN_FLIGHT", 4)
	c.Provisioning.InFlightTTL, parseErr = durationVar(parseErr, "PROVISIONING_IN_FLIGHT_TTL")

	c.Bootstrap.AdminEmail = strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL"))
	c.Bootstrap.AdminPassword = os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")

	if parseErr != nil {
		return Config{}, parseErr
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error

	if c.App.Env == "" {
		errs = multierr.Append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = multierr.Append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Backend == "" {
		c.App.Backend = BackendPostgres
	}
	switch c.App.Backend {
	case BackendPostgres:
	case BackendMemory:
		if c.IsProduction() {
			errs = multierr.Append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.App.Backend))
	}

	if c.UsesPostgres() {
		errs = multierr.Append(errs, c.validateDB())
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = multierr.Append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = multierr.Append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = multierr.Append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = multierr.Append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	// bcrypt accepts 4..31; zero selects its default.
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		errs = multierr.Append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}

	if c.Provisioning.StepTimeout <= 0 {
		c.Provisioning.StepTimeout = 10 * time.Second
	}
	if c.Provisioning.MaxInFlightPerCaller < 0 {
		errs = multierr.Append(errs, fmt.Errorf("PROVISIONING_MAX_IN_FLIGHT must not be negative, got %d", c.Provisioning.MaxInFlightPerCaller))
	}
	if c.Provisioning.InFlightTTL <= 0 {
		c.Provisioning.InFlightTTL = 2 * time.Minute
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = multierr.Append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}

	return errs
}

func (c *Config) validateDB() error {
	var errs error
	if c.DB.Host == "" {
		errs = multierr.Append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = multierr.Append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = multierr.Append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = multierr.Append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = multierr.Append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) UsesPostgres() bool {
	return c.App.Backend == "" || c.App.Backend == BackendPostgres
}

// RedisEnabled reports whether the in-flight cap has a backing Redis.
func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func loadDotEnv() error {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("ENV_FILE %q: %w", path, err)
		}
		return nil
	}
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return nil
}

func intVar(errs error, key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, multierr.Append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func durationVar(errs error, key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, multierr.Append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func boolVar(errs error, key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, multierr.Append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}
