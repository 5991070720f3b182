package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/api"
	"github.com/p-arndt/sessionbox/internal/config"
	"github.com/p-arndt/sessionbox/internal/container"
	"github.com/p-arndt/sessionbox/internal/logger"
	"github.com/p-arndt/sessionbox/internal/mcpserver"
	"github.com/p-arndt/sessionbox/internal/metrics"
	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/reaper"
	"github.com/p-arndt/sessionbox/internal/session"
	"github.com/p-arndt/sessionbox/internal/staging"
	"github.com/p-arndt/sessionbox/internal/store"
)

// coreModule wires everything below the transports.
func coreModule(cfgPath string) fx.Option {
	return fx.Options(
		fx.Provide(
			func() (*config.Config, error) { return config.Load(cfgPath) },
			logger.NewFromConfig,
			metrics.New,
			func() afero.Fs { return afero.NewOsFs() },
			func() container.CommandRunner { return container.ExecCommandRunner{} },
			newStore,
			newProvisioner,
			newRegistry,
			newReaper,
			newStager,
			newExecutor,
			newManager,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

func newStore(lc fx.Lifecycle, cfg *config.Config) (*store.Store, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session ledger: %w", err)
	}
	if err := st.Ping(); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping session ledger: %w", err)
	}
	lc.Append(fx.StopHook(st.Close))
	return st, nil
}

// newProvisioner picks the isolation strategy once. No strategy is not
// fatal: the service starts and every session operation reports
// ErrEnvironmentUnavailable.
func newProvisioner(lc fx.Lifecycle, cfg *config.Config, fs afero.Fs, runner container.CommandRunner, log *zap.Logger) (provision.Provisioner, error) {
	if err := fs.MkdirAll(cfg.Sandbox.StagingRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}

	prov, err := provision.Detect(context.Background(), provision.Candidates(cfg, fs, runner, log), log)
	if errors.Is(err, provision.ErrEnvironmentUnavailable) {
		log.Error("no isolation strategy available, session operations will fail", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if c, ok := prov.(io.Closer); ok {
		lc.Append(fx.StopHook(c.Close))
	}
	return prov, nil
}

func newRegistry(prov provision.Provisioner, st *store.Store, m *metrics.Metrics, log *zap.Logger) *session.Registry {
	return session.NewRegistry(prov, st, m, log)
}

func newReaper(registry *session.Registry, prov provision.Provisioner, st *store.Store, fs afero.Fs, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *reaper.Reaper {
	return reaper.New(registry, prov, st, fs, reaper.Options{
		StagingRoot: cfg.Sandbox.StagingRoot,
		Concurrency: cfg.Sandbox.TeardownConcurrency,
	}, m, log.Named("reaper"))
}

func newStager(fs afero.Fs, cfg *config.Config, log *zap.Logger) *staging.Stager {
	return staging.New(fs, cfg.Staging.SkipDirs, log.Named("staging"))
}

func newExecutor(prov provision.Provisioner, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *session.Executor {
	return session.NewExecutor(prov, session.ExecutorOptions{
		RunTimeout:     cfg.Sandbox.RunTimeout,
		InstallTimeout: cfg.Sandbox.InstallTimeout,
		KillOnTimeout:  cfg.Sandbox.KillOnTimeout,
	}, m, log)
}

func newManager(registry *session.Registry, stager *staging.Stager, executor *session.Executor, rp *reaper.Reaper, cfg *config.Config, log *zap.Logger) *session.Manager {
	return session.NewManager(registry, stager, executor, rp, session.ManagerOptions{
		SerializePerSession: cfg.Sandbox.SerializePerSession,
	}, log)
}

// registerSessionLifecycle sweeps leftovers of earlier runs on start and tears
// every session down on stop.
func registerSessionLifecycle(lc fx.Lifecycle, cfg *config.Config, mgr *session.Manager, rp *reaper.Reaper, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Sandbox.SweepOnStart {
				rp.Sweep(ctx)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("releasing all sessions")
			mgr.ReleaseAll(ctx)
			return nil
		},
	})
}

func newAPIServer(cfg *config.Config, mgr *session.Manager, m *metrics.Metrics, log *zap.Logger) *api.Server {
	return api.NewServer(cfg, mgr, m, log.Named("api"))
}

func newMCPServer(mgr *session.Manager, log *zap.Logger) *mcpserver.MCPServer {
	return mcpserver.New(mgr, log.Named("mcp"))
}
