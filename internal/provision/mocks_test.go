package provision

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sessionbox/internal/container"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Name() string { return "mock" }

func (m *MockEngine) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) RunDetached(ctx context.Context, spec container.RunSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Exec(ctx context.Context, containerID string, spec container.ExecSpec) (*container.ExecResult, error) {
	args := m.Called(ctx, containerID, spec)
	if res := args.Get(0); res != nil {
		return res.(*container.ExecResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Remove(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) ListManaged(ctx context.Context) ([]container.Managed, error) {
	args := m.Called(ctx)
	if res := args.Get(0); res != nil {
		return res.([]container.Managed), args.Error(1)
	}
	return nil, args.Error(1)
}
