package reaper

import (
	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/store"
)

// SessionRegistry abstracts the live session registry.
type SessionRegistry interface {
	Get(sessionID string) (*provision.Environment, bool)
	Remove(sessionID string) (*provision.Environment, bool)
	IDs() []string
}

// ReaperStore abstracts ledger operations needed by the reaper.
type ReaperStore interface {
	ListSessions() ([]*store.Session, error)
	DeleteSession(id string) error
}
