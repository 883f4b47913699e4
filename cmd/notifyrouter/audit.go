package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hostelhub/notifyrouter/internal/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the routing audit journal",
	}

	var limit uint64
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the audit stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.KurrentDB.Enabled {
				return fmt.Errorf("KURRENTDB_ENABLED is not set; there is no stream to verify")
			}

			ctx := context.Background()
			journal, err := audit.NewKurrentDBJournal(ctx, cfg.KurrentDB)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := journal.ReadAll(ctx, limit)
			if err != nil {
				return err
			}
			result := audit.Verify(entries)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("audit chain has %d violations", len(result.Violations))
			}
			return nil
		},
	}
	verify.Flags().Uint64Var(&limit, "limit", 100000, "maximum number of entries to read")

	cmd.AddCommand(verify)
	return cmd
}
