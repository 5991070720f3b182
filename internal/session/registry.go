package session

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/p-arndt/sessionbox/internal/metrics"
	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/store"
)

// Registry maps session ids to their provisioned environments. Concurrent
// GetOrCreate calls for one id share a single provisioning.
type Registry struct {
	prov    provision.Provisioner
	ledger  SessionLedger
	metrics *metrics.Metrics
	log     *zap.Logger

	mu    sync.RWMutex
	envs  map[string]*provision.Environment
	group singleflight.Group
}

// NewRegistry returns an empty registry. ledger and m may be nil.
func NewRegistry(prov provision.Provisioner, ledger SessionLedger, m *metrics.Metrics, log *zap.Logger) *Registry {
	return &Registry{
		prov:    prov,
		ledger:  ledger,
		metrics: m,
		log:     log,
		envs:    make(map[string]*provision.Environment),
	}
}

// Strategy names the isolation strategy in use, or "" when there is none.
func (r *Registry) Strategy() string {
	if r.prov == nil {
		return ""
	}
	return r.prov.Name()
}

// GetOrCreate returns the session's environment, provisioning it on first
// use. Provisioning is detached from ctx cancellation: a caller that gives up
// does not fail the callers waiting on the same creation.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*provision.Environment, error) {
	if env, ok := r.Get(sessionID); ok {
		return env, nil
	}
	if r.prov == nil {
		return nil, ErrEnvironmentUnavailable
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		// Another flight may have finished between the lookup and Do.
		if env, ok := r.Get(sessionID); ok {
			return env, nil
		}

		env, err := r.prov.Create(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			r.log.Error("provisioning failed", zap.String("session_id", sessionID), zap.Error(err))
			r.metrics.ProvisioningFailed(r.prov.Name())
			return nil, err
		}

		r.mu.Lock()
		r.envs[sessionID] = env
		r.mu.Unlock()

		r.metrics.SessionProvisioned(r.prov.Name())
		r.record(env)
		r.log.Info("session provisioned",
			zap.String("session_id", sessionID),
			zap.String("strategy", r.prov.Name()),
			zap.String("staging_dir", env.StagingDir))
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*provision.Environment), nil
}

func (r *Registry) Get(sessionID string) (*provision.Environment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.envs[sessionID]
	return env, ok
}

// Remove unregisters the session and returns what was registered. Only one
// of several concurrent callers gets ok == true.
func (r *Registry) Remove(sessionID string) (*provision.Environment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envs[sessionID]
	if ok {
		delete(r.envs, sessionID)
	}
	return env, ok
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) record(env *provision.Environment) {
	if r.ledger == nil {
		return
	}
	err := r.ledger.SaveSession(&store.Session{
		ID:              env.SessionID,
		Kind:            string(env.Handle.Kind),
		StagingDir:      env.StagingDir,
		ContainerID:     env.Handle.ContainerID,
		ContainerName:   env.Handle.ContainerName,
		InterpreterRoot: env.Handle.InterpreterRoot,
		CreatedAt:       env.CreatedAt,
	})
	if err != nil {
		r.log.Warn("recording session in ledger", zap.String("session_id", env.SessionID), zap.Error(err))
	}
}
