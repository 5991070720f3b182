package session

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/staging"
	"github.com/p-arndt/sessionbox/internal/store"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Name() string         { return "mock" }
func (m *MockProvisioner) Kind() provision.Kind { return provision.KindContainer }

func (m *MockProvisioner) Create(ctx context.Context, sessionID string) (*provision.Environment, error) {
	args := m.Called(ctx, sessionID)
	if env := args.Get(0); env != nil {
		return env.(*provision.Environment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvisioner) Exec(ctx context.Context, env *provision.Environment, execID string, argv []string) (*provision.Output, error) {
	args := m.Called(ctx, env, execID, argv)
	if out := args.Get(0); out != nil {
		return out.(*provision.Output), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvisioner) Interrupt(ctx context.Context, env *provision.Environment, execID string) error {
	args := m.Called(ctx, env, execID)
	return args.Error(0)
}

func (m *MockProvisioner) Destroy(ctx context.Context, env *provision.Environment) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) SaveSession(sess *store.Session) error {
	args := m.Called(sess)
	return args.Error(0)
}

type MockStager struct {
	mock.Mock
}

func (m *MockStager) Stage(stagingDir, entryName, entryContent, sourceDir string) (staging.Report, error) {
	args := m.Called(stagingDir, entryName, entryContent, sourceDir)
	return args.Get(0).(staging.Report), args.Error(1)
}

// recordingReaper unregisters sessions from the registry and remembers what
// it was asked to clean up.
type recordingReaper struct {
	registry *Registry

	mu      sync.Mutex
	cleaned []string
}

func (r *recordingReaper) Cleanup(_ context.Context, sessionID string) {
	if _, ok := r.registry.Remove(sessionID); !ok {
		return
	}
	r.mu.Lock()
	r.cleaned = append(r.cleaned, sessionID)
	r.mu.Unlock()
}

func (r *recordingReaper) CleanupAll(ctx context.Context) {
	for _, id := range r.registry.IDs() {
		r.Cleanup(ctx, id)
	}
}

func (r *recordingReaper) Cleaned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cleaned...)
}

func testEnv(id string) *provision.Environment {
	return &provision.Environment{
		SessionID:  id,
		StagingDir: "/staging/sessionbox-" + id,
		Handle: provision.Handle{
			Kind:          provision.KindContainer,
			ContainerID:   "cid-" + id,
			ContainerName: provision.ContainerName(id),
		},
	}
}
