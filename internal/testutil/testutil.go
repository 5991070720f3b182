// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/p-arndt/sessionbox/internal/config"
	"github.com/p-arndt/sessionbox/internal/store"
)

// TestConfig returns a Config with test defaults rooted in a fresh temp dir.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Listen: "127.0.0.1:0",
		APIKey: "test-api-key",
		DBPath: ":memory:",
		Sandbox: config.SandboxConfig{
			Engine:              config.EngineVenv,
			StagingRoot:         filepath.Join(root, "staging"),
			RunTimeout:          5 * time.Second,
			InstallTimeout:      10 * time.Second,
			KillOnTimeout:       true,
			TeardownConcurrency: 4,
		},
		Container: config.ContainerConfig{
			Image:       "python:3.12-slim",
			Interpreter: "python",
			WorkDir:     "/workspace",
			MemoryLimit: "256m",
			CPULimit:    1.0,
			PidsLimit:   64,
			NetworkMode: "none",
		},
		Fallback: config.FallbackConfig{
			Python:  "python3",
			VenvDir: "venv",
		},
		Staging: config.StagingConfig{
			SkipDirs: config.DefaultSkipDirs,
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "debug",
		},
		MCP: config.MCPConfig{
			Listen: "127.0.0.1:0",
		},
	}
}

// TestSessionRow returns a ledger row for a container-backed session.
func TestSessionRow(id string) *store.Session {
	return &store.Session{
		ID:            id,
		Kind:          "container",
		StagingDir:    "/tmp/sessionbox/sessionbox-" + id,
		ContainerID:   "0123456789ab" + id,
		ContainerName: "sessionbox-" + id,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
