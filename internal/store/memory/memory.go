// Package memory keeps sessions and results in process. Used in development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	codes    map[string]string // join code -> session id, active sessions only
	results  map[string][]session.Result
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		codes:    make(map[string]string),
		results:  make(map[string][]session.Result),
		now:      time.Now,
	}
}

func (m *Store) CreateSession(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.codes[s.JoinCode]; taken {
		return session.ErrDuplicateCode
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	m.codes[s.JoinCode] = s.ID
	return nil
}

func (m *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Store) GetSessionByCode(ctx context.Context, code string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.codes[code]
	if !ok {
		return nil, session.ErrNotFound
	}
	return m.sessions[id].Clone(), nil
}

func (m *Store) UpdateSession(ctx context.Context, id string, fn store.MutateFunc) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	next.Version = cur.Version + 1
	m.sessions[id] = next
	if next.IsEnded {
		// frees the code for reuse
		delete(m.codes, next.JoinCode)
	}
	return next.Clone(), nil
}

func (m *Store) InsertResult(ctx context.Context, r *session.Result, guard store.GuardFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[r.SessionID]
	if !ok {
		return session.ErrNotFound
	}
	if guard != nil {
		if err := guard(s.Clone()); err != nil {
			return err
		}
	}

	for _, existing := range m.results[r.SessionID] {
		if existing.UserID == r.UserID {
			return session.ErrDuplicateResult
		}
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = m.now()
	}
	m.results[r.SessionID] = append(m.results[r.SessionID], *r)
	return nil
}

func (m *Store) ListResults(ctx context.Context, sessionID string) ([]session.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]session.Result(nil), m.results[sessionID]...), nil
}

func (m *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Store) Close() error { return nil }
