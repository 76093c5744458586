// Package conversation keeps the bounded per-owner turn history that is fed
// to the language model.
package conversation

import (
	"context"
	"fmt"
	"sync"
)

// DefaultLimit is the number of turns a session keeps.
const DefaultLimit = 10

type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged utterance.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend persists turns across restarts.
type Backend interface {
	LoadTurns(ctx context.Context, owner string) ([]Turn, error)
	SaveTurns(ctx context.Context, owner string, turns []Turn) error
}

// Session is one owner's history. It is only touched between Store.Acquire
// and Release, so it carries no lock of its own beyond the acquire token.
type Session struct {
	owner  string
	limit  int
	turns  []Turn
	loaded bool
	token  chan struct{}
}

func newSession(owner string, limit int) *Session {
	return &Session{
		owner: owner,
		limit: limit,
		token: make(chan struct{}, 1),
	}
}

func (s *Session) Owner() string { return s.owner }

func (s *Session) AppendUser(content string)      { s.append(Turn{Role: RoleUser, Content: content}) }
func (s *Session) AppendSystem(content string)    { s.append(Turn{Role: RoleSystem, Content: content}) }
func (s *Session) AppendAssistant(content string) { s.append(Turn{Role: RoleAssistant, Content: content}) }

func (s *Session) append(t Turn) {
	s.turns = append(s.turns, t)
	s.trim()
}

// trim evicts the oldest turns until the session fits its limit.
func (s *Session) trim() {
	if over := len(s.turns) - s.limit; over > 0 {
		s.turns = append([]Turn(nil), s.turns[over:]...)
	}
}

// Turns returns a copy of the history, oldest first.
func (s *Session) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Len() int { return len(s.turns) }

// PreviousTurn returns the most recent turn without removing it.
func (s *Session) PreviousTurn() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// Release hands the session back to the store.
func (s *Session) Release() {
	<-s.token
}

// Store owns every session of the process. Sessions are created lazily and
// handed out one holder at a time, which serialises turns of the same owner
// while different owners proceed in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	limit    int
	backend  Backend
}

type Option func(*Store)

// WithLimit overrides the per-session turn cap.
func WithLimit(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.limit = n
		}
	}
}

// WithBackend loads sessions on first use and lets Save persist them.
func WithBackend(b Backend) Option {
	return func(st *Store) { st.backend = b }
}

func NewStore(opts ...Option) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		limit:    DefaultLimit,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Acquire returns the owner's session for exclusive use. The caller must call
// Release. It blocks while another holder has the session, or until ctx ends.
func (st *Store) Acquire(ctx context.Context, owner string) (*Session, error) {
	st.mu.Lock()
	sess, ok := st.sessions[owner]
	if !ok {
		sess = newSession(owner, st.limit)
		st.sessions[owner] = sess
	}
	st.mu.Unlock()

	select {
	case sess.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !sess.loaded {
		if st.backend != nil {
			turns, err := st.backend.LoadTurns(ctx, owner)
			if err != nil {
				sess.Release()
				return nil, fmt.Errorf("load session %s: %w", owner, err)
			}
			sess.turns = turns
			sess.trim()
		}
		sess.loaded = true
	}
	return sess, nil
}

// Save persists a held session through the backend, if any.
func (st *Store) Save(ctx context.Context, sess *Session) error {
	if st.backend == nil {
		return nil
	}
	if err := st.backend.SaveTurns(ctx, sess.owner, sess.Turns()); err != nil {
		return fmt.Errorf("save session %s: %w", sess.owner, err)
	}
	return nil
}

// Snapshot returns a copy of the owner's history.
func (st *Store) Snapshot(ctx context.Context, owner string) ([]Turn, error) {
	sess, err := st.Acquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	return sess.Turns(), nil
}
