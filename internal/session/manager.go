package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/staging"
)

// DefaultFileName is the entry script name when a request does not name one.
const DefaultFileName = "script.py"

type ExecuteRequest struct {
	SessionID string
	Content   string
	FileName  string
	// SourceDir is an already authorized absolute host directory whose
	// entries are copied next to the entry script.
	SourceDir string
}

type SessionInfo struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	StagingDir    string    `json:"staging_dir"`
	ContainerName string    `json:"container_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Manager is the entry point for request handlers: it ties the registry,
// stager, executor and reaper together.
type Manager struct {
	registry *Registry
	stager   FileStager
	executor *Executor
	reaper   Reaper
	log      *zap.Logger

	// serialize runs calls for the same session one at a time.
	serialize bool
	locks     map[string]*sync.Mutex
	locksMu   sync.Mutex
}

type ManagerOptions struct {
	SerializePerSession bool
}

func NewManager(registry *Registry, stager FileStager, executor *Executor, reaper Reaper, opts ManagerOptions, log *zap.Logger) *Manager {
	return &Manager{
		registry:  registry,
		stager:    stager,
		executor:  executor,
		reaper:    reaper,
		log:       log,
		serialize: opts.SerializePerSession,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Execute stages req.Content (plus req.SourceDir) in the session and runs it.
// A request with neither content nor a source directory re-runs the file
// already staged under that name; a source directory alone is still copied
// and the entry written, empty.
func (m *Manager) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = DefaultFileName
	}
	if err := staging.ValidateEntryName(fileName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	env, err := m.registry.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(req.SessionID)
	defer unlock()

	if req.Content != "" || req.SourceDir != "" {
		report, err := m.stager.Stage(env.StagingDir, fileName, req.Content, req.SourceDir)
		if err != nil {
			return &ExecutionResult{
				Stderr:   "Error: " + err.Error(),
				ExitCode: LaunchFailureExitCode,
			}, nil
		}
		for _, f := range report.Failures {
			m.log.Debug("staging entry skipped", zap.String("session_id", req.SessionID), zap.String("entry", f.Name))
		}
	}

	return m.executor.Run(ctx, env, fileName), nil
}

// ValidatePackageName accepts a single pip requirement specifier. Anything
// pip would parse as an option is rejected.
func ValidatePackageName(pkg string) error {
	if strings.TrimSpace(pkg) == "" {
		return errors.New("package name is required")
	}
	if strings.ContainsAny(pkg, " \t\r\n") {
		return errors.New("package name must be a single requirement specifier")
	}
	if strings.HasPrefix(pkg, "-") {
		return errors.New("package name must not start with '-'")
	}
	return nil
}

// Install installs pkg into the session's interpreter environment.
func (m *Manager) Install(ctx context.Context, sessionID, pkg string) (*InstallResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if err := ValidatePackageName(pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	env, err := m.registry.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(sessionID)
	defer unlock()

	return m.executor.Install(ctx, env, pkg), nil
}

// Release tears the session down. Unknown ids are a no-op.
func (m *Manager) Release(ctx context.Context, sessionID string) {
	m.reaper.Cleanup(ctx, sessionID)
	m.removeSessionLock(sessionID)
}

// ReleaseAll tears down every registered session.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.reaper.CleanupAll(ctx)
	m.locksMu.Lock()
	clear(m.locks)
	m.locksMu.Unlock()
}

func (m *Manager) List() []SessionInfo {
	ids := m.registry.IDs()
	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		env, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		infos = append(infos, sessionInfo(env))
	}
	return infos
}

// Strategy names the isolation strategy sessions are provisioned with.
func (m *Manager) Strategy() string {
	return m.registry.Strategy()
}

func sessionInfo(env *provision.Environment) SessionInfo {
	return SessionInfo{
		ID:            env.SessionID,
		Kind:          string(env.Handle.Kind),
		StagingDir:    env.StagingDir,
		ContainerName: env.Handle.ContainerName,
		CreatedAt:     env.CreatedAt,
	}
}

func (m *Manager) lock(id string) func() {
	if !m.serialize {
		return func() {}
	}
	mu := m.sessionLock(id)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeSessionLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}
