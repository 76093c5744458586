package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
)

func (s *SQLiteStore) Append(ctx context.Context, rec memory.Record) error {
	embedding, err := rec.Embedding.StorageValue()
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	query := `INSERT INTO messages (id, user_id, message, replied_to_message, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Owner, rec.Message, rec.RepliedTo, embedding, rec.Timestamp.UnixMicro())
	return err
}

func (s *SQLiteStore) FetchWithEmbedding(ctx context.Context, owner string) ([]memory.Record, error) {
	return s.queryMessages(ctx, `SELECT id, user_id, message, replied_to_message, embedding, created_at
		FROM messages WHERE user_id = ? AND embedding IS NOT NULL ORDER BY created_at, seq`, owner)
}

func (s *SQLiteStore) FetchAll(ctx context.Context, owner string) ([]memory.Record, error) {
	return s.queryMessages(ctx, `SELECT id, user_id, message, replied_to_message, embedding, created_at
		FROM messages WHERE user_id = ? ORDER BY created_at, seq`, owner)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, owner string) ([]memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []memory.Record
	for rows.Next() {
		var (
			rec       memory.Record
			embedding any
			micros    int64
			repliedTo sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Message, &repliedTo, &embedding, &micros); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		rec.RepliedTo = repliedTo.String
		rec.Embedding = memory.FromStorage(embedding)
		rec.Timestamp = time.UnixMicro(micros).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return records, nil
}
