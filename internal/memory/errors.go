package memory

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned before any I/O when a caller passes a bad parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// DecodeError reports an embedding that could not be turned into a vector.
// Retrieval recovers from it by dropping the record.
type DecodeError struct {
	RecordID string
	Kind     EmbeddingKind
	Err      error
}

func (e *DecodeError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("decode %s embedding of record %s: %v", e.Kind, e.RecordID, e.Err)
	}
	return fmt.Sprintf("decode %s embedding: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failed call to the embedder or the store.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
