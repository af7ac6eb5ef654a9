package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dataherald/console/pkg/fixtures"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/models"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the console tables",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("database", "console.duckdb", "DuckDB database path")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load queries into the database",
		Long: `Load queries from a YAML seed file into the database. Without --file the
bundled sample queries are loaded. Queries are matched by id, so seeding the
same file twice updates rather than duplicates.`,
		Args: cobra.NoArgs,
		RunE: runSeed,
	}
	seedCmd.Flags().String("database", "console.duckdb", "DuckDB database path")
	seedCmd.Flags().StringP("file", "f", "", "seed file (defaults to the bundled samples)")

	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(os.Stderr, cfg.LogLevel)

	st, err := openStore(cmd.Context(), cfg, logger, metrics.NewNoOpCollector())
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date\n", cfg.Database)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(os.Stderr, cfg.LogLevel)

	var queries []*models.Query
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		queries, err = fixtures.LoadFile(path)
	} else {
		queries, err = fixtures.Default()
	}
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg, logger, metrics.NewNoOpCollector())
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.queries.Import(cmd.Context(), queries)
	if err != nil {
		return fmt.Errorf("imported %d of %d queries: %w", n, len(queries), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d queries into %s\n", n, cfg.Database)
	return nil
}
