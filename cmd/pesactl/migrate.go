package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pesa/internal/cli"
	"pesa/internal/log"
	"pesa/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Bring the ledger schema to the latest version. The server and
the worker migrate on start as well; this command lets you do it ahead
of a deploy.`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "show the applied version without migrating")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	if !status {
		logger.Info("Starting database migration", "database", cfg.SQLiteDBPath)
		if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
			logger.Error("Migration failed", log.FieldError, err)
			return err
		}
	}

	version, dirty, err := storage.SchemaVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d", version)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
