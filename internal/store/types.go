package store

import (
	"context"
	"strings"

	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/memory"
)

// Storage persists messages and conversation history.
type Storage interface {
	memory.Store
	conversation.Backend

	Close() error
}

// ConfigStore holds key/value settings. Missing keys read as "".
type ConfigStore interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// InMemoryURL selects the process-local store.
const InMemoryURL = "memory"

// Open picks a backend from databaseURL: empty means the SQLite file at
// sqlitePath, "memory" means in-process, anything else is a Postgres URL.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Storage, error) {
	switch url := strings.TrimSpace(databaseURL); url {
	case "":
		s, err := NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case InMemoryURL:
		return NewInMemoryStore(), nil
	default:
		s, err := NewPostgresStore(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
