package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/memory"
)

// PostgresStore persists messages and sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		// Postgres columns are typed, so the two stored embedding shapes get
		// one column each.
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			message TEXT NOT NULL,
			replied_to_message TEXT NOT NULL,
			embedding_text TEXT,
			embedding_bytes BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			owner TEXT PRIMARY KEY,
			turns JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec memory.Record) error {
	value, err := rec.Embedding.StorageValue()
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	var text *string
	var raw []byte
	switch v := value.(type) {
	case string:
		text = &v
	case []byte:
		raw = v
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, user_id, message, replied_to_message, embedding_text, embedding_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID,
		rec.Owner,
		rec.Message,
		rec.RepliedTo,
		text,
		raw,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchWithEmbedding(ctx context.Context, owner string) ([]memory.Record, error) {
	return s.queryMessages(ctx,
		`SELECT id, user_id, message, replied_to_message, embedding_text, embedding_bytes, created_at
		 FROM messages WHERE user_id=$1 AND (embedding_text IS NOT NULL OR embedding_bytes IS NOT NULL)
		 ORDER BY created_at, seq`, owner)
}

func (s *PostgresStore) FetchAll(ctx context.Context, owner string) ([]memory.Record, error) {
	return s.queryMessages(ctx,
		`SELECT id, user_id, message, replied_to_message, embedding_text, embedding_bytes, created_at
		 FROM messages WHERE user_id=$1 ORDER BY created_at, seq`, owner)
}

func (s *PostgresStore) queryMessages(ctx context.Context, query, owner string) ([]memory.Record, error) {
	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var (
			r    memory.Record
			text *string
			raw  []byte
		)
		if err := rows.Scan(&r.ID, &r.Owner, &r.Message, &r.RepliedTo, &text, &raw, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		switch {
		case text != nil:
			r.Embedding = memory.TextEmbedding(*text)
		case raw != nil:
			r.Embedding = memory.BytesEmbedding(raw)
		}
		r.Timestamp = r.Timestamp.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) LoadTurns(ctx context.Context, owner string) ([]conversation.Turn, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT turns FROM sessions WHERE owner=$1`, owner).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var turns []conversation.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) SaveTurns(ctx context.Context, owner string, turns []conversation.Turn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (owner, turns, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (owner) DO UPDATE SET turns = EXCLUDED.turns, updated_at = EXCLUDED.updated_at`,
		owner, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
