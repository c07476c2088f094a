/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package history records completed games in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("history: store is closed")

// Completion describes one finished game.
type Completion struct {
	GameID      string
	Tiles       int
	Activations int
	Mismatches  int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (c Completion) Elapsed() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// Store is safe for concurrent use. Close waits for calls in progress.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

var schemas = []string{
	`CREATE TABLE IF NOT EXISTS completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id TEXT NOT NULL,
		tiles INTEGER NOT NULL,
		activations INTEGER NOT NULL,
		mismatches INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_completions_finished_at ON completions(finished_at);`,
}

// Open creates the database at path if needed and prepares its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	for _, query := range schemas {
		if _, err := db.ExecContext(ctx, query); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schemas: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Record stores c.
func (s *Store) Record(ctx context.Context, c Completion) error {
	if s == nil {
		return ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions
			(game_id, tiles, activations, mismatches, started_at, finished_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.GameID,
		c.Tiles,
		c.Activations,
		c.Mismatches,
		c.StartedAt.UnixMilli(),
		c.FinishedAt.UnixMilli(),
		c.Elapsed().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record game %s: %w", c.GameID, err)
	}

	return nil
}

// Recent returns up to limit completions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Completion, error) {
	if s == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id, tiles, activations, mismatches, started_at, finished_at
		FROM completions
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var c Completion
		var started, finished int64
		if err := rows.Scan(&c.GameID, &c.Tiles, &c.Activations, &c.Mismatches, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		c.StartedAt = time.UnixMilli(started)
		c.FinishedAt = time.UnixMilli(finished)

		out = append(out, c)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}
