package postgres

import (
	"time"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

type sessionRow struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	QuizID    string           `gorm:"not null"`
	HostID    string           `gorm:"not null"`
	JoinCode  string           `gorm:"size:6;not null"`
	Players   []session.Player `gorm:"type:jsonb;serializer:json;not null"`
	IsStarted bool             `gorm:"not null;default:false"`
	IsEnded   bool             `gorm:"not null;default:false"`
	Version   int64            `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "multiplayer_sessions" }

type resultRow struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	SessionID   string         `gorm:"type:uuid;not null"`
	UserID      string         `gorm:"not null"`
	Answers     map[string]any `gorm:"type:jsonb;serializer:json;not null"`
	Score       *int
	SubmittedAt time.Time `gorm:"not null"`
}

func (resultRow) TableName() string { return "multiplayer_results" }

func toSessionRow(s *session.Session) sessionRow {
	players := s.Players
	if players == nil {
		players = []session.Player{}
	}
	return sessionRow{
		ID:        s.ID,
		QuizID:    s.QuizID,
		HostID:    s.HostID,
		JoinCode:  s.JoinCode,
		Players:   players,
		IsStarted: s.IsStarted,
		IsEnded:   s.IsEnded,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r sessionRow) toDomain() *session.Session {
	players := r.Players
	if players == nil {
		players = []session.Player{}
	}
	return &session.Session{
		ID:        r.ID,
		QuizID:    r.QuizID,
		HostID:    r.HostID,
		JoinCode:  r.JoinCode,
		Players:   players,
		IsStarted: r.IsStarted,
		IsEnded:   r.IsEnded,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toResultRow(r *session.Result) resultRow {
	answers := r.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	return resultRow{
		ID:          r.ID,
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		Answers:     answers,
		Score:       r.Score,
		SubmittedAt: r.SubmittedAt,
	}
}

func (r resultRow) toDomain() session.Result {
	return session.Result{
		ID:          r.ID,
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		Answers:     r.Answers,
		Score:       r.Score,
		SubmittedAt: r.SubmittedAt,
	}
}
