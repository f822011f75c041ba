// Package coordinator is the single place where sessions and results change.
// REST handlers and the websocket adapter both call into it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

var (
	ErrAlreadyStarted = fmt.Errorf("session already started: %w", session.ErrConflict)
	ErrAlreadyEnded   = fmt.Errorf("session already ended: %w", session.ErrConflict)
	ErrNotStarted     = fmt.Errorf("session has not started: %w", session.ErrConflict)
	ErrResubmission   = fmt.Errorf("answers already submitted: %w", session.ErrConflict)

	errUnchanged = errors.New("unchanged")
)

const defaultCodeAttempts = 8

// Publisher delivers an event to everyone subscribed to a session's channel.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg types.ServerMessage) error
}

type Coordinator struct {
	store        store.Store
	pub          Publisher
	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	newID        func() string
	newCode      func() (string, error)
	codeAttempts int
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(c *Coordinator) { c.newCode = gen }
}

func New(st store.Store, pub Publisher, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        st,
		pub:          pub,
		log:          log,
		metrics:      metrics.Nop(),
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		newCode:      session.GenerateJoinCode,
		codeAttempts: defaultCodeAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) CreateSession(ctx context.Context, quizID string, host session.Identity) (*session.Session, error) {
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return nil, fmt.Errorf("quiz_id is required: %w", session.ErrValidation)
	}
	if !host.CanHost() {
		return nil, fmt.Errorf("only teachers can host a session: %w", session.ErrForbidden)
	}

	for attempt := 1; attempt <= c.codeAttempts; attempt++ {
		code, err := c.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w: %w", session.ErrTransient, err)
		}
		s := &session.Session{
			ID:       c.newID(),
			QuizID:   quizID,
			HostID:   host.ID,
			JoinCode: code,
			Players:  []session.Player{},
		}
		err = c.store.CreateSession(ctx, s)
		if errors.Is(err, session.ErrDuplicateCode) {
			c.log.Debug("join code collision, regenerating", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, storeErr("create session", err)
		}
		c.log.Info("session created",
			zap.String("session_id", s.ID), zap.String("quiz_id", quizID), zap.String("host_id", host.ID))
		return s, nil
	}
	return nil, fmt.Errorf("no free join code after %d attempts: %w", c.codeAttempts, session.ErrTransient)
}

func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("get session", err)
	}
	return s, nil
}

// JoinSession looks the session up by join code (any case) and upserts the player.
func (c *Coordinator) JoinSession(ctx context.Context, code string, p session.Profile) (*session.Session, error) {
	code = session.NormalizeJoinCode(code)
	if code == "" {
		return nil, fmt.Errorf("join_code is required: %w", session.ErrValidation)
	}
	if !session.ValidJoinCode(code) {
		return nil, fmt.Errorf("lobby %q: %w", code, session.ErrNotFound)
	}
	s, err := c.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, storeErr("find lobby", err)
	}
	return c.join(ctx, s.ID, p)
}

// JoinSessionByID is the real-time path, where the client already knows the session id.
func (c *Coordinator) JoinSessionByID(ctx context.Context, sessionID string, p session.Profile) (*session.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required: %w", session.ErrValidation)
	}
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	return c.join(ctx, sessionID, p)
}

func (c *Coordinator) join(ctx context.Context, sessionID string, p session.Profile) (*session.Session, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", session.ErrValidation)
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		if s.IsStarted || s.IsEnded {
			return ErrAlreadyStarted
		}
		s.Players = session.UpsertPlayer(s.Players, session.NewPlayer(p, c.now().UTC()))
		return nil
	})
	if err != nil {
		return nil, storeErr("join session", err)
	}
	c.publish(ctx, updated.ID, types.NewLobbyUpdate(updated))
	return updated, nil
}

// LeaveSession is idempotent. Nothing is published when the player was not on the roster.
func (c *Coordinator) LeaveSession(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	return c.removePlayer(ctx, sessionID, func(roster []session.Player) ([]session.Player, bool) {
		return session.RemovePlayer(roster, userID)
	})
}

// DisconnectPlayer removes userID only while their entry is still bound to socketID,
// so a player who already reconnected on a new socket stays in the lobby.
func (c *Coordinator) DisconnectPlayer(ctx context.Context, sessionID, userID, socketID string) (*session.Session, error) {
	return c.removePlayer(ctx, sessionID, func(roster []session.Player) ([]session.Player, bool) {
		return session.RemoveIfBound(roster, userID, socketID)
	})
}

func (c *Coordinator) removePlayer(ctx context.Context, sessionID string, remove func([]session.Player) ([]session.Player, bool)) (*session.Session, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		if s.IsEnded {
			return errUnchanged
		}
		roster, changed := remove(s.Players)
		if !changed {
			return errUnchanged
		}
		s.Players = roster
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return c.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, storeErr("leave session", err)
	}
	c.publish(ctx, updated.ID, types.NewLobbyUpdate(updated))
	return updated, nil
}

// StartSession may be repeated; each call rewrites the flag and republishes.
func (c *Coordinator) StartSession(ctx context.Context, sessionID string, caller session.Identity) (*session.Session, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		if !s.CanControl(caller) {
			return fmt.Errorf("only the host can start the session: %w", session.ErrForbidden)
		}
		if s.IsEnded {
			return ErrAlreadyEnded
		}
		s.IsStarted = true
		return nil
	})
	if err != nil {
		return nil, storeErr("start session", err)
	}
	c.log.Info("session started", zap.String("session_id", sessionID), zap.Int("players", len(updated.Players)))
	c.publish(ctx, sessionID, types.NewSessionStarted(sessionID))
	return updated, nil
}

// SubmitAnswers stores one result per player. A second submission is a conflict.
func (c *Coordinator) SubmitAnswers(ctx context.Context, sessionID, userID string, answers map[string]any, score *int) (*session.Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", session.ErrValidation)
	}
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]any{}
	}

	r := &session.Result{
		ID:          c.newID(),
		SessionID:   sessionID,
		UserID:      userID,
		Answers:     answers,
		Score:       score,
		SubmittedAt: c.now().UTC(),
	}
	// checked under the store's lock so an EndSession cannot slip between check and insert
	err := c.store.InsertResult(ctx, r, func(s *session.Session) error {
		if s.IsEnded {
			return ErrAlreadyEnded
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrDuplicateResult) {
			return nil, ErrResubmission
		}
		return nil, storeErr("submit answers", err)
	}
	c.publish(ctx, sessionID, types.NewPlayerSubmitted(r))
	return r, nil
}

// EndSession marks the session ended, then ranks the results and broadcasts the leaderboard.
// Once the flag is stored no further submission can land, so the ranking is final.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string, caller session.Identity) (*session.Session, []session.LeaderboardEntry, error) {
	if err := checkID(sessionID); err != nil {
		return nil, nil, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, func(s *session.Session) error {
		if err := checkEndable(s, caller); err != nil {
			return err
		}
		s.IsEnded = true
		return nil
	})
	if err != nil {
		return nil, nil, storeErr("end session", err)
	}

	results, err := c.store.ListResults(ctx, sessionID)
	if err != nil {
		c.log.Error("session ended but results could not be read",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil, storeErr("load results", err)
	}
	board := session.BuildLeaderboard(results)

	c.log.Info("session ended", zap.String("session_id", sessionID), zap.Int("results", len(board)))
	c.publish(ctx, sessionID, types.NewSessionEnded(sessionID, board))
	return updated, board, nil
}

// Leaderboard is the read-only ranking, available to the host before and after the end.
func (c *Coordinator) Leaderboard(ctx context.Context, sessionID string, caller session.Identity) ([]session.LeaderboardEntry, error) {
	if err := checkID(sessionID); err != nil {
		return nil, err
	}
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("leaderboard", err)
	}
	if !s.CanControl(caller) {
		return nil, fmt.Errorf("only the host can view the leaderboard: %w", session.ErrForbidden)
	}
	results, err := c.store.ListResults(ctx, sessionID)
	if err != nil {
		return nil, storeErr("load results", err)
	}
	return session.BuildLeaderboard(results), nil
}

// checkID turns ids that cannot name a session into NotFound before they reach the store.
func checkID(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("session %q: %w", sessionID, session.ErrNotFound)
	}
	return nil
}

func checkEndable(s *session.Session, caller session.Identity) error {
	switch {
	case !s.CanControl(caller):
		return fmt.Errorf("only the host can end the session: %w", session.ErrForbidden)
	case s.IsEnded:
		return ErrAlreadyEnded
	case !s.IsStarted:
		return ErrNotStarted
	}
	return nil
}

// publish never fails the caller: the store write already happened.
func (c *Coordinator) publish(ctx context.Context, sessionID string, msg types.ServerMessage) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(context.WithoutCancel(ctx), sessionID, msg); err != nil {
		c.metrics.PublishFailures.WithLabelValues(msg.Type).Inc()
		c.log.Warn("publish failed",
			zap.String("session_id", sessionID), zap.String("event", msg.Type), zap.Error(err))
		return
	}
	c.metrics.EventsPublished.WithLabelValues(msg.Type).Inc()
}

func storeErr(op string, err error) error {
	if session.Known(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, session.ErrTransient, err)
}
