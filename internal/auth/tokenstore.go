// Package auth owns the OAuth2 token lifecycle: durable session storage,
// proactive refresh, and the initial authorization-code exchange.
package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sondrele/tibber-data-poller/internal/metrics"
	"github.com/sondrele/tibber-data-poller/pkg/model"
)

// ErrNoSession is returned when the blob store holds no persisted session.
var ErrNoSession = errors.New("no stored token session")

// BlobStore persists the serialized token session across restarts.
type BlobStore interface {
	Load() (model.TokenSession, error)
	Save(session model.TokenSession) error
	Close() error
}

// Store holds the active token session and hands out the current access
// token to API callers. All mutation goes through the coordinator's single
// refresh path, so a plain mutex is enough.
type Store struct {
	mu      sync.RWMutex
	session model.TokenSession
	blobs   BlobStore
	logger  zerolog.Logger
}

// NewStore loads the persisted session from the blob store. A missing
// session is an error: the service cannot poll without credentials and the
// bootstrap command must be run first.
func NewStore(blobs BlobStore, logger zerolog.Logger) (*Store, error) {
	session, err := blobs.Load()
	if err != nil {
		return nil, fmt.Errorf("loading token session: %w", err)
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("stored token session invalid: %w", err)
	}

	return &Store{
		session: session,
		blobs:   blobs,
		logger:  logger.With().Str("component", "auth").Logger(),
	}, nil
}

// AccessToken implements api.TokenProvider.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

// Session returns a copy of the current session.
func (s *Store) Session() model.TokenSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// NeedsRefresh reports whether the access token is within the refresh
// threshold of expiry.
func (s *Store) NeedsRefresh(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.NeedsRefresh(now, model.DefaultRefreshThreshold)
}

// Commit replaces the active session and persists it. The new session is
// only visible to AccessToken after the durable write succeeds, so a crash
// between refresh and commit never leaves a live token unpersisted.
func (s *Store) Commit(session model.TokenSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("refusing to commit invalid session: %w", err)
	}
	if err := s.blobs.Save(session); err != nil {
		return fmt.Errorf("persisting token session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	metrics.TokenValid.Set(1)
	s.logger.Debug().
		Time("expires_at", time.Unix(session.ExpiresAt, 0).UTC()).
		Msg("token session committed")
	return nil
}

// SQLiteBlobStore keeps the token session as a single JSON blob in a
// local SQLite database.
type SQLiteBlobStore struct {
	db *sql.DB
}

// NewSQLiteBlobStore opens (creating if needed) the session database at
// the given path.
func NewSQLiteBlobStore(path string) (*SQLiteBlobStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating token database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening token database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS token_sessions (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		session TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating token schema: %w", err)
	}

	return &SQLiteBlobStore{db: db}, nil
}

// Load reads the persisted session. ErrNoSession is returned when the
// database has never been written.
func (s *SQLiteBlobStore) Load() (model.TokenSession, error) {
	var blob string
	err := s.db.QueryRow("SELECT session FROM token_sessions WHERE id = 1").Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TokenSession{}, ErrNoSession
	}
	if err != nil {
		return model.TokenSession{}, fmt.Errorf("querying token session: %w", err)
	}

	var session model.TokenSession
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return model.TokenSession{}, fmt.Errorf("decoding token session: %w", err)
	}
	return session, nil
}

// Save upserts the session blob.
func (s *SQLiteBlobStore) Save(session model.TokenSession) error {
	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding token session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO token_sessions (id, session, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET session = excluded.session, updated_at = excluded.updated_at`,
		string(blob), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing token session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}

// MemoryBlobStore is an in-memory BlobStore for tests and the bootstrap
// command's dry-run mode.
type MemoryBlobStore struct {
	mu      sync.Mutex
	session model.TokenSession
	stored  bool
}

func (m *MemoryBlobStore) Load() (model.TokenSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stored {
		return model.TokenSession{}, ErrNoSession
	}
	return m.session, nil
}

func (m *MemoryBlobStore) Save(session model.TokenSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
	m.stored = true
	return nil
}

func (m *MemoryBlobStore) Close() error { return nil }
