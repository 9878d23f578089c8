// Command hospitalctl runs maintenance tasks against the hospital database.
package main

import (
	"fmt"
	"os"

	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/spf13/cobra"
)

const cliName = "hospitalctl"

func main() {
	rootCmd := &cobra.Command{
		Use:           cliName,
		Short:         "Hospital backend maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(lotsCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs
type env struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
}

func connect() (*env, error) {
	cfg, err := config.LoadWithValidation(cliName)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	log := logger.New(cliName, cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) Close() {
	e.db.Close()
}
