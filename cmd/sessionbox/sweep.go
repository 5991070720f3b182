package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/p-arndt/sessionbox/internal/reaper"
)

func newSweepCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim containers, staging directories and ledger rows left by earlier runs",
		Long: `sweep removes everything a previous sessionbox process left behind: ledger
rows, containers labelled sessionbox.managed=true and sessionbox-* staging
directories. Do not run it while a server is using the same staging root,
ledger or container engine: its sessions would be reclaimed too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rp *reaper.Reaper
			app := fx.New(coreModule(*cfgFile), fx.Populate(&rp))
			if err := app.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			report := rp.Sweep(ctx)
			if err := app.Stop(ctx); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
