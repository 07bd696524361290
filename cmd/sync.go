package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shoplens/pipeline-cli/internal/warehouse"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push validated output to the dashboard warehouse",
	Long:  "Bulk-upserts canonical records and validation results newer than the last sync watermark into the dashboard Postgres, then advances the watermark.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dbURL := cfg.Warehouse.DatabaseURL
		if dbURL == "" {
			dbURL = cfg.Store.DatabaseURL
		}
		pool, err := warehouse.NewPool(ctx, dbURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		syncer := warehouse.NewSyncer(pool, st)
		if err := syncer.Migrate(ctx); err != nil {
			return err
		}

		stats, err := syncer.Sync(ctx)
		if err != nil {
			return eris.Wrap(err, "warehouse sync")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
