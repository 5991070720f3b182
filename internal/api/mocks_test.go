package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/sessionbox/internal/session"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Execute(ctx context.Context, req session.ExecuteRequest) (*session.ExecutionResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*session.ExecutionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Install(ctx context.Context, sessionID, pkg string) (*session.InstallResult, error) {
	args := m.Called(ctx, sessionID, pkg)
	if result := args.Get(0); result != nil {
		return result.(*session.InstallResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Release(ctx context.Context, sessionID string) {
	m.Called(ctx, sessionID)
}

func (m *MockSessionService) List() []session.SessionInfo {
	args := m.Called()
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]session.SessionInfo)
	}
	return nil
}

func (m *MockSessionService) Strategy() string {
	args := m.Called()
	return args.String(0)
}
