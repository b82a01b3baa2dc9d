package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenant-platform/internal/admin"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/auth"
	"tenant-platform/internal/config"
	"tenant-platform/internal/httpapi"
	"tenant-platform/internal/identity"
	"tenant-platform/internal/metrics"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/store"
	"tenant-platform/pkg/logger"
	"tenant-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const inFlightKeyPrefix = "tenant-platform:provisioning:inflight"

// backend is the persistence selected by STORE_BACKEND.
type backend struct {
	store     store.Store
	directory interface {
		identity.Directory
		identity.Authenticator
	}
	auditRepo audit.Repository
	health    func(ctx context.Context) error
	close     func()
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	be, err := openBackend(rootCtx, cfg, authManager)
	if err != nil {
		log.Error("store init failed", "backend", cfg.App.Backend, "err", err)
		os.Exit(1)
	}
	defer be.close()

	if cfg.Bootstrap.Enabled() {
		res, err := admin.Bootstrap(rootCtx, be.store, be.directory, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword)
		if err != nil {
			log.Error("bootstrap failed", "err", err)
			os.Exit(1)
		}
		log.Info("super admin ready", "principal_id", res.PrincipalID, "reused", res.ReusedAccount, "roles", res.CatalogSize)
	} else if !cfg.UsesPostgres() {
		log.Warn("memory backend without BOOTSTRAP_ADMIN_EMAIL: no account can log in")
	}

	m := metrics.New()
	engine := policy.NewEngine(be.store, policy.WithLogger(log), policy.WithObserver(m))
	auditLog := audit.NewService(be.auditRepo, engine)
	workflow := provisioning.New(engine, be.store, be.directory, auditLog,
		provisioning.WithStepTimeout(cfg.Provisioning.StepTimeout),
		provisioning.WithAuditUserCreation(cfg.Provisioning.AuditUserCreation),
		provisioning.WithObserver(m),
	)

	// Left as a nil interface when disabled so LimitInFlight passes through.
	var limiter httpapi.Limiter
	if cfg.RedisEnabled() && cfg.Provisioning.MaxInFlightPerCaller > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		inflight, err := utils.NewConcurrencyCap(rdb, inFlightKeyPrefix, cfg.Provisioning.MaxInFlightPerCaller, cfg.Provisioning.InFlightTTL)
		if err != nil {
			log.Error("in-flight cap init failed", "err", err)
			os.Exit(1)
		}
		limiter = inflight
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Admin:       admin.NewService(engine, be.store, auditLog, workflow),
			Auth:        authManager,
			Credentials: be.directory,
		},
		policy:  engine,
		callers: be.directory,
		limiter: limiter,
		rejects: m,
		metrics: m.Handler(),
		health:  be.health,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "backend", cfg.App.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func openBackend(ctx context.Context, cfg config.Config, tokens *auth.Manager) (*backend, error) {
	if !cfg.UsesPostgres() {
		return &backend{
			store:     store.NewMemoryStore(),
			directory: identity.NewMemoryDirectory(tokens, cfg.Auth.BcryptCost),
			auditRepo: audit.NewMemoryRepo(),
			health:    func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &backend{
		store:     store.NewPostgresStore(db),
		directory: identity.NewPostgresDirectory(db, tokens, cfg.Auth.BcryptCost),
		auditRepo: audit.NewPostgresRepo(db),
		health:    pingWith(db),
		close:     func() { _ = db.Close() },
	}, nil
}

func pingWith(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return utils.HealthCheck(ctx, db, 2*time.Second)
	}
}
