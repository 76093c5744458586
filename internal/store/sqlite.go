package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/recall/internal/conversation"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			owner TEXT PRIMARY KEY,
			turns TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		// embedding has no declared type so text and blob values come back
		// exactly as they were written.
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			replied_to_message TEXT NOT NULL,
			embedding,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Session Implementation

func (s *SQLiteStore) LoadTurns(ctx context.Context, owner string) ([]conversation.Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT turns FROM sessions WHERE owner = ?`, owner)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var turns []conversation.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) SaveTurns(ctx context.Context, owner string, turns []conversation.Turn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}

	query := `INSERT INTO sessions (owner, turns, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, owner, string(raw), time.Now().UnixMicro())
	return err
}
