// Package reaper tears sessions down: one at a time on release, all at once
// on shutdown, and leftovers of earlier runs on startup.
package reaper

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/p-arndt/sessionbox/internal/metrics"
	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/store"
)

const defaultConcurrency = 8

type Options struct {
	StagingRoot string
	// Concurrency bounds parallel teardowns in CleanupAll.
	Concurrency int
}

type Reaper struct {
	registry SessionRegistry
	prov     provision.Provisioner
	store    ReaperStore
	fs       afero.Fs
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New returns a Reaper. st and m may be nil.
func New(registry SessionRegistry, prov provision.Provisioner, st ReaperStore, fs afero.Fs, opts Options, m *metrics.Metrics, logger *zap.Logger) *Reaper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Reaper{
		registry: registry,
		prov:     prov,
		store:    st,
		fs:       fs,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
}

// Cleanup tears down the session and forgets it. Teardown errors are logged;
// the session is unregistered regardless. Unknown ids are a no-op.
func (r *Reaper) Cleanup(ctx context.Context, sessionID string) {
	env, ok := r.registry.Remove(sessionID)
	if !ok {
		r.logger.Debug("cleanup: unknown session", zap.String("session_id", sessionID))
		return
	}

	r.teardown(ctx, env)
	r.metrics.SessionReleased()
	r.logger.Info("session cleaned up", zap.String("session_id", sessionID))
}

// CleanupAll cleans up every registered session concurrently.
func (r *Reaper) CleanupAll(ctx context.Context) {
	ids := r.registry.IDs()
	if len(ids) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			r.Cleanup(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("cleaned up all sessions", zap.Int("count", len(ids)))
}

// teardown destroys the sandbox, removes the staging directory and drops the
// ledger row, in that order, so a crash in between leaves the row for Sweep.
func (r *Reaper) teardown(ctx context.Context, env *provision.Environment) {
	log := r.logger.With(zap.String("session_id", env.SessionID))

	if r.prov != nil && env.Handle.Kind == r.prov.Kind() {
		if err := r.prov.Destroy(ctx, env); err != nil {
			log.Warn("teardown: destroy sandbox", zap.Error(err))
			r.metrics.TeardownFailed()
		}
	}

	if env.StagingDir != "" {
		if err := r.fs.RemoveAll(env.StagingDir); err != nil {
			log.Warn("teardown: remove staging dir", zap.String("dir", env.StagingDir), zap.Error(err))
			r.metrics.TeardownFailed()
		}
	}

	if r.store != nil && env.SessionID != "" {
		if err := r.store.DeleteSession(env.SessionID); err != nil {
			log.Warn("teardown: delete ledger row", zap.Error(err))
		}
	}
}

// SweepReport counts what Sweep reclaimed.
type SweepReport struct {
	LedgerRows  int `json:"ledger_rows"`
	Containers  int `json:"containers"`
	StagingDirs int `json:"staging_dirs"`
}

// Sweep reclaims resources left by earlier runs of the process: ledger rows,
// containers carrying the managed label and sessionbox-* directories under
// the staging root. Anything belonging to a currently registered session is
// left alone. Sessions are never restored.
func (r *Reaper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	live := make(map[string]struct{})
	liveDirs := make(map[string]struct{})
	for _, id := range r.registry.IDs() {
		live[id] = struct{}{}
		if env, ok := r.registry.Get(id); ok && env.StagingDir != "" {
			liveDirs[filepath.Clean(env.StagingDir)] = struct{}{}
		}
	}

	if r.store != nil {
		rows, err := r.store.ListSessions()
		if err != nil {
			r.logger.Error("sweep: list ledger", zap.Error(err))
		}
		for _, row := range rows {
			if _, ok := live[row.ID]; ok {
				continue
			}
			r.logger.Info("sweep: reclaiming orphaned session", zap.String("session_id", row.ID), zap.String("kind", row.Kind))
			r.teardown(ctx, environmentFromRow(row))
			report.LedgerRows++
		}
	}

	if lister, ok := r.prov.(provision.ManagedLister); ok {
		envs, err := lister.ListManaged(ctx)
		if err != nil {
			r.logger.Error("sweep: list managed containers", zap.Error(err))
		}
		for i := range envs {
			env := &envs[i]
			if _, ok := live[env.SessionID]; ok {
				continue
			}
			if err := r.prov.Destroy(ctx, env); err != nil {
				r.logger.Warn("sweep: remove container", zap.String("container", env.Handle.ContainerName), zap.Error(err))
				r.metrics.TeardownFailed()
				continue
			}
			report.Containers++
		}
	}

	if r.opts.StagingRoot != "" {
		report.StagingDirs = r.sweepStagingRoot(liveDirs)
	}

	if report != (SweepReport{}) {
		r.logger.Info("sweep complete",
			zap.Int("ledger_rows", report.LedgerRows),
			zap.Int("containers", report.Containers),
			zap.Int("staging_dirs", report.StagingDirs))
	}
	return report
}

func (r *Reaper) sweepStagingRoot(liveDirs map[string]struct{}) int {
	entries, err := afero.ReadDir(r.fs, r.opts.StagingRoot)
	if err != nil {
		r.logger.Debug("sweep: read staging root", zap.String("dir", r.opts.StagingRoot), zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !provision.IsManagedName(entry.Name()) {
			continue
		}
		dir := filepath.Join(r.opts.StagingRoot, entry.Name())
		if _, ok := liveDirs[filepath.Clean(dir)]; ok {
			continue
		}
		if err := r.fs.RemoveAll(dir); err != nil {
			r.logger.Warn("sweep: remove staging dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func environmentFromRow(row *store.Session) *provision.Environment {
	return &provision.Environment{
		SessionID:  row.ID,
		StagingDir: row.StagingDir,
		Handle: provision.Handle{
			Kind:            provision.Kind(row.Kind),
			ContainerID:     row.ContainerID,
			ContainerName:   row.ContainerName,
			InterpreterRoot: row.InterpreterRoot,
		},
		CreatedAt: row.CreatedAt,
	}
}
