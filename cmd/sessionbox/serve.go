package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/api"
	"github.com/p-arndt/sessionbox/internal/config"
	"github.com/p-arndt/sessionbox/internal/mcpserver"
)

// Teardown of many containers can take a while.
const stopTimeout = 2 * time.Minute

func newServeCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, and the MCP endpoint when enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(serveOptions(*cfgFile), fx.StopTimeout(stopTimeout))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func serveOptions(cfgPath string) fx.Option {
	return fx.Options(
		coreModule(cfgPath),
		fx.Provide(newAPIServer, newMCPServer),
		fx.Invoke(registerSessionLifecycle, registerListeners),
	)
}

func registerListeners(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, apiSrv *api.Server, mcpSrv *mcpserver.MCPServer, log *zap.Logger) {
	if cfg.APIKey == "" {
		log.Warn("no API key configured, running in open access mode")
	}

	serveHTTP(lc, shutdowner, "api", cfg.Listen, apiSrv.Handler(), log)
	if cfg.MCP.Enabled {
		serveHTTP(lc, shutdowner, "mcp", cfg.MCP.Listen, mcpSrv.Handler(), log)
	}
}

func serveHTTP(lc fx.Lifecycle, shutdowner fx.Shutdowner, name, addr string, handler http.Handler, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// First use of a session provisions it before running.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("%s listen on %s: %w", name, addr, err)
			}
			log.Info("listening", zap.String("server", name), zap.String("addr", ln.Addr().String()))
			if name == "api" {
				fmt.Fprintf(os.Stderr, "\n  sessionbox ready at http://%s\n\n", ln.Addr())
			}

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server error", zap.String("server", name), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down", zap.String("server", name))
			return srv.Shutdown(ctx)
		},
	})
}
