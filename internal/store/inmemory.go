package store

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/recall/internal/conversation"
	"github.com/felixgeelhaar/recall/internal/memory"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]memory.Record
	sessions map[string][]conversation.Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string][]memory.Record),
		sessions: make(map[string][]conversation.Turn),
	}
}

func (s *InMemoryStore) Append(_ context.Context, rec memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Owner] = append(s.records[rec.Owner], rec)
	return nil
}

func (s *InMemoryStore) FetchWithEmbedding(_ context.Context, owner string) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []memory.Record
	for _, rec := range s.records[owner] {
		if rec.Embedding.Present() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) FetchAll(_ context.Context, owner string) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]memory.Record(nil), s.records[owner]...), nil
}

func (s *InMemoryStore) LoadTurns(_ context.Context, owner string) ([]conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]conversation.Turn(nil), s.sessions[owner]...), nil
}

func (s *InMemoryStore) SaveTurns(_ context.Context, owner string, turns []conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[owner] = append([]conversation.Turn(nil), turns...)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
