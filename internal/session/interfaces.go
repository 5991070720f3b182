package session

import (
	"context"

	"github.com/p-arndt/sessionbox/internal/staging"
	"github.com/p-arndt/sessionbox/internal/store"
)

type SessionLedger interface {
	SaveSession(sess *store.Session) error
}

type FileStager interface {
	Stage(stagingDir, entryName, entryContent, sourceDir string) (staging.Report, error)
}

type Reaper interface {
	Cleanup(ctx context.Context, sessionID string)
	CleanupAll(ctx context.Context)
}
