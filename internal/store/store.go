// Package store persists conversations and messages in a local SQLite file,
// with all confidential columns encrypted through the crypto service.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"chatvault/internal/crypto"
)

var (
	ErrNotInitialized     = errors.New("store: not initialized")
	ErrEncryptionNotReady = errors.New("store: encryption not ready")
	ErrClosed             = errors.New("store: closed")
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

// Store is the persistence service. Lifecycle: Open → Migrate (ready) →
// Close. Every operation checks the lifecycle state, and operations that
// touch confidential columns check the crypto service before any I/O.
type Store struct {
	mu     sync.Mutex
	state  state
	db     *sql.DB
	crypto *crypto.Service
}

// Open connects to the SQLite database at path. The store is not usable
// until Migrate has run.
func Open(path string, cs *crypto.Service) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single local writer: one connection keeps the pragma scope and the
	// write path simple.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, crypto: cs}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		source_app TEXT NOT NULL,
		chat_type TEXT NOT NULL,
		display_name TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		tags TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		timestamp_utc INTEGER NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL,
		FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_end_time ON conversations(end_time)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp_utc)`,
}

// Migrate ensures both tables and their indexes exist and transitions the
// store to ready. Safe to call more than once.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return ErrClosed
	}
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.state = stateReady
	return nil
}

// Close releases the connection. All further operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	return s.db.Close()
}

// ready gates every operation on lifecycle state.
func (s *Store) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return ErrClosed
	case stateUninitialized:
		return ErrNotInitialized
	}
	return nil
}

// readyForCrypto additionally requires a usable key. The check runs before
// any I/O so a sequencing bug surfaces as an error, not a plaintext write.
func (s *Store) readyForCrypto() error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.crypto.IsInitialized() {
		return ErrEncryptionNotReady
	}
	return nil
}
