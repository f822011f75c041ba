// Package store defines the persistence boundary for multiplayer sessions and their results.
package store

import (
	"context"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

// MutateFunc edits a session in place. Returning an error aborts the write.
type MutateFunc func(s *session.Session) error

// GuardFunc looks at the session while it is locked for a result insert.
// Returning an error aborts the insert.
type GuardFunc func(s *session.Session) error

type Store interface {
	// CreateSession fails with session.ErrDuplicateCode when the join code is held by an active session.
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	// GetSessionByCode only matches sessions that have not ended.
	GetSessionByCode(ctx context.Context, code string) (*session.Session, error)
	// UpdateSession reads, mutates and writes back one session atomically and bumps its Version.
	UpdateSession(ctx context.Context, id string, fn MutateFunc) (*session.Session, error)

	// InsertResult runs guard against the session and writes r in one atomic step, so no
	// UpdateSession can change the session in between. It fails with session.ErrNotFound
	// when the session is missing and session.ErrDuplicateResult on a second row for the
	// same (session, user).
	InsertResult(ctx context.Context, r *session.Result, guard GuardFunc) error
	ListResults(ctx context.Context, sessionID string) ([]session.Result, error)

	Ping(ctx context.Context) error
	Close() error
}
