package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostelhub/notifyrouter/internal/shared/database"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := context.Background()
			db, err := database.New(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if status {
				pending, err := database.Pending(ctx, db.Pool)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
					return nil
				}
				for _, version := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), "pending", version)
				}
				return nil
			}

			return database.Migrate(ctx, db.Pool, log)
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations without applying them")
	return cmd
}
