package memory

import (
	"context"
	"time"
)

// ConversationStart is stored as the reply-to reference of an owner's first message.
const ConversationStart = "$convo_start$"

// Record is one persisted utterance.
type Record struct {
	ID        string
	Owner     string
	Message   string
	RepliedTo string
	Embedding RawEmbedding
	Timestamp time.Time
}

// Result is what retrieval hands back to callers. Scores stay internal.
type Result struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists records. Implementations return records in creation order
// and must hand back the embedding in the form it was written.
type Store interface {
	// FetchWithEmbedding returns the owner's records that carry an embedding.
	FetchWithEmbedding(ctx context.Context, owner string) ([]Record, error)

	// FetchAll returns every record of the owner.
	FetchAll(ctx context.Context, owner string) ([]Record, error)

	// Append persists a new record.
	Append(ctx context.Context, rec Record) error
}

// Embedder turns text into a vector. It must be deterministic for a fixed model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
