package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func tickerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "ticker",
		Short: "Run the escalation ticker without the API",
		Long: `Runs the escalation ticker alone. Any number of tickers can share one
database; each level fires exactly once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, log, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			if once {
				fired, err := app.Ticker.Tick(ctx)
				if err != nil {
					return err
				}
				log.Infow("tick complete", "fired", fired)
				return nil
			}
			return app.Ticker.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single scan and exit")
	return cmd
}
