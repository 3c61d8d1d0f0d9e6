package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"carelink/internal/cli"
	"carelink/internal/config"
	applog "carelink/internal/log"
	"carelink/internal/storage"
)

var Version = "dev"

var dbPath string

func main() {
	cli.LoadEnvFile()
	cli.SetupLogger(applog.ComponentApp)
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "carelinkctl",
		Short:         "Administer a CareLink database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.SQLiteDBPath, "path to the SQLite database")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(journalCmd(cfg))
	rootCmd.AddCommand(summarizeCmd(cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	return repo, nil
}
