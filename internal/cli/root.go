// Package cli implements the companyctl command line tool.
//
// Every command opens the configured store, migrates it, and runs one
// operation through core.Service with reconciliation forced to sync so
// results are final when the command returns. Logs go to stderr; command
// output goes to stdout.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/companyimport/internal/config"
	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/JonMunkholm/companyimport/internal/logging"
	"github.com/JonMunkholm/companyimport/internal/store"
)

// LoadFunc returns the configuration a command runs with.
type LoadFunc func() (*config.Config, error)

// LoadConfig reads .env (if present) and the environment.
func LoadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load()
}

// app holds what PersistentPreRunE opens for the running command.
type app struct {
	load    LoadFunc
	records core.RecordStore
	service *core.Service
}

// NewRootCommand builds the companyctl command tree.
func NewRootCommand(load LoadFunc) *cobra.Command {
	a := &app{load: load}

	root := &cobra.Command{
		Use:   "companyctl",
		Short: "Import, reconcile and export company records",
		Long: `companyctl imports company CSV files, resolves duplicate records
and exports the result. It uses the same store configuration as the server.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.open,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}

	root.AddCommand(
		newImportCommand(a),
		newReconcileCommand(a),
		newExportCommand(a),
		newGroupsCommand(a),
		newBatchCommand(a),
		newMarkDuplicateCommand(a),
		newMigrateCommand(a),
	)
	return root
}

// Execute runs companyctl with the process environment.
func Execute() {
	if err := NewRootCommand(LoadConfig).Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	cfg.Ingest.ReconcileMode = core.ReconcileSync

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx := logging.WithLogger(cmd.Context(), logger)
	cmd.SetContext(ctx)

	records, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if err := records.Migrate(ctx); err != nil {
		records.Close()
		return err
	}

	service, err := core.NewService(records, cfg)
	if err != nil {
		records.Close()
		return err
	}
	a.records, a.service = records, service
	return nil
}

func (a *app) close() {
	if a.records != nil {
		a.records.Close()
		a.records = nil
	}
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// userError renders err with its support code for the terminal.
func userError(err error) error {
	if core.IsUserFacing(err) {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	return err
}
