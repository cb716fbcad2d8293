package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cabinmap/core-go/internal/config"
	"cabinmap/core-go/internal/httpapi"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-connections",
	Short: "Rewrite legacy bare-id connection lists as typed edges",
	Long: `Resolves every legacy bare-id entry in location connection lists
(accounts first, then content), stores the typed form and repairs the reverse
lists. Entries that match no record are dropped. Safe to run repeatedly.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	logger := httpapi.NewLogger(cfg.LogLevel)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.locations.MigrateConnections(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d locations, migrated %d\n", rep.Scanned, rep.Migrated)
	return nil
}
