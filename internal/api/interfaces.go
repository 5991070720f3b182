package api

import (
	"context"

	"github.com/p-arndt/sessionbox/internal/session"
)

// SessionService abstracts session operations needed by API handlers.
type SessionService interface {
	Execute(ctx context.Context, req session.ExecuteRequest) (*session.ExecutionResult, error)
	Install(ctx context.Context, sessionID, pkg string) (*session.InstallResult, error)
	Release(ctx context.Context, sessionID string)
	List() []session.SessionInfo
	Strategy() string
}
