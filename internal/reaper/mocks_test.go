package reaper

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/store"
)

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Get(sessionID string) (*provision.Environment, bool) {
	args := m.Called(sessionID)
	if env := args.Get(0); env != nil {
		return env.(*provision.Environment), args.Bool(1)
	}
	return nil, args.Bool(1)
}

func (m *MockRegistry) Remove(sessionID string) (*provision.Environment, bool) {
	args := m.Called(sessionID)
	if env := args.Get(0); env != nil {
		return env.(*provision.Environment), args.Bool(1)
	}
	return nil, args.Bool(1)
}

func (m *MockRegistry) IDs() []string {
	args := m.Called()
	if ids := args.Get(0); ids != nil {
		return ids.([]string)
	}
	return nil
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListSessions() ([]*store.Session, error) {
	args := m.Called()
	if rows := args.Get(0); rows != nil {
		return rows.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) DeleteSession(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

type MockProvisioner struct {
	mock.Mock
	kind provision.Kind
}

func (m *MockProvisioner) Name() string         { return "mock" }
func (m *MockProvisioner) Kind() provision.Kind { return m.kind }

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

// MockContainerProvisioner additionally lists managed containers.
type MockContainerProvisioner struct {
	MockProvisioner
}

func (m *MockContainerProvisioner) ListManaged(ctx context.Context) ([]provision.Environment, error) {
	args := m.Called(ctx)
	if envs := args.Get(0); envs != nil {
		return envs.([]provision.Environment), args.Error(1)
	}
	return nil, args.Error(1)
}
