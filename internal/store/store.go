// Package store keeps a ledger of live sessions in SQLite so that resources
// left behind by a crashed process can be found and reclaimed on the next
// start. Sessions are never restored from it.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// Session is one ledger row.
type Session struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	StagingDir      string    `json:"staging_dir"`
	ContainerID     string    `json:"container_id,omitempty"`
	ContainerName   string    `json:"container_name,omitempty"`
	InterpreterRoot string    `json:"interpreter_root,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	staging_dir      TEXT NOT NULL,
	container_id     TEXT NOT NULL DEFAULT '',
	container_name   TEXT NOT NULL DEFAULT '',
	interpreter_root TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

// DefaultMaxOpenConns is the default connection pool size.
const DefaultMaxOpenConns = 4

// dsnWithPragmas applies WAL, busy_timeout and perf pragmas to every new connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// New opens (and creates if needed) the ledger at dbPath. ":memory:" gives a
// private in-memory ledger.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conns := DefaultMaxOpenConns
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// SaveSession inserts or replaces the row for sess.ID.
func (s *Store) SaveSession(sess *Session) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT OR REPLACE INTO sessions (id, kind, staging_dir, container_id, container_name, interpreter_root, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Kind, sess.StagingDir, sess.ContainerID, sess.ContainerName, sess.InterpreterRoot,
			sess.CreatedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, staging_dir, container_id, container_name, interpreter_root, created_at
		 FROM sessions ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes the row for id. Deleting a missing row is not an error.
func (s *Store) DeleteSession(id string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.Kind, &sess.StagingDir, &sess.ContainerID, &sess.ContainerName,
		&sess.InterpreterRoot, &sess.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}
