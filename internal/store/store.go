// Package store is the persistent repository for world cards, the
// chronicle and session settings, backed by SQLite. All mutations
// write through immediately; there is no write-back caching.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite connection.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open initializes the database at path, creating the schema when
// missing.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id   TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		doc  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cards_type ON cards(type);

	CREATE TABLE IF NOT EXISTS chronicle (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		turn      INTEGER NOT NULL,
		role      TEXT NOT NULL,
		content   TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chronicle_turn ON chronicle(turn);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset clears all three tables (session reset / archive load).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"cards", "chronicle", "settings"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
