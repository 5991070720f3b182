package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/p-arndt/sessionbox/internal/mcpserver"
)

func newMCPCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdin/stdout",
		Long: `mcp serves run_python, install_package and release_session over the MCP
stdio transport, for clients that launch the server as a subprocess. Logs go
to stderr. All sessions are released when stdin closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var srv *mcpserver.MCPServer
			app := fx.New(
				coreModule(*cfgFile),
				fx.Provide(newMCPServer),
				fx.Invoke(registerSessionLifecycle),
				fx.Populate(&srv),
				fx.StopTimeout(stopTimeout),
			)
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
			serveErr := srv.ServeStdio()

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := app.Stop(stopCtx); err != nil {
				return err
			}
			return serveErr
		},
	}
}
