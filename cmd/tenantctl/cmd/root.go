// Package cmd implements the tenantctl operator commands. They talk to
// Postgres directly and run the same workflows as the API.
package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"tenant-platform/internal/admin"
	"tenant-platform/internal/audit"
	"tenant-platform/internal/config"
	"tenant-platform/internal/identity"
	"tenant-platform/internal/policy"
	"tenant-platform/internal/provisioning"
	"tenant-platform/internal/store"
	"tenant-platform/pkg/logger"
	"tenant-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var (
	outputFormat string

	// Set by PersistentPreRunE for every command except help.
	cfg config.Config
	db  *sql.DB
)

var rootCmd = &cobra.Command{
	Use:   "tenantctl",
	Short: "Operator CLI for the tenant platform",
	Long: `tenantctl applies the schema, bootstraps the first super admin and
inspects or repairs tenant provisioning. It reads the same environment
(or .env file) as the API and requires the postgres backend.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if !cfg.UsesPostgres() {
			return errors.New("tenantctl requires STORE_BACKEND=postgres")
		}
		slog.SetDefault(logger.New(cfg.App.Env))

		db, err = utils.OpenPostgres(cmd.Context(), "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 4})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// services builds the admin stack over db. The directory never verifies
// tokens here, so it gets none.
func services() (*admin.Service, store.Store, identity.Directory) {
	st := store.NewPostgresStore(db)
	dir := identity.NewPostgresDirectory(db, nil, cfg.Auth.BcryptCost)
	engine := policy.NewEngine(st, policy.WithLogger(slog.Default()))
	log := audit.NewService(audit.NewPostgresRepo(db), engine)
	wf := provisioning.New(engine, st, dir, log,
		provisioning.WithStepTimeout(cfg.Provisioning.StepTimeout),
		provisioning.WithAuditUserCreation(cfg.Provisioning.AuditUserCreation),
	)
	return admin.NewService(engine, st, log, wf), st, dir
}

func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
