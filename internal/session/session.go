package session

import (
	"time"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Identity is what the auth provider resolves a bearer credential to.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (i Identity) CanHost() bool { return i.Role == RoleTeacher || i.Role == RoleAdmin }

// DisplayName falls back to the email, then "Anonymous".
func (i Identity) DisplayName() string {
	switch {
	case i.Name != "":
		return i.Name
	case i.Email != "":
		return i.Email
	default:
		return "Anonymous"
	}
}

// Profile is the snapshot copied into a Player entry at join time.
type Profile struct {
	UserID    string
	Name      string
	AvatarURL string
	SocketID  string // empty when joining over REST
}

type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   *string   `json:"avatar"`
	SocketID *string   `json:"socket_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type Session struct {
	ID        string    `json:"id"`
	QuizID    string    `json:"quiz_id"`
	HostID    string    `json:"host_id"`
	JoinCode  string    `json:"join_code"`
	Players   []Player  `json:"players"`
	IsStarted bool      `json:"is_started"`
	IsEnded   bool      `json:"is_ended"`
	Version   int64     `json:"version"` // bumped on every stored change
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone copies the roster so callers can mutate it without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	c.Players = append(make([]Player, 0, len(s.Players)), s.Players...)
	return &c
}

// CanControl reports whether id may start or end the session.
func (s *Session) CanControl(id Identity) bool {
	return id.ID == s.HostID || id.IsAdmin()
}

type Result struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id"`
	Answers     map[string]any `json:"answers"`
	Score       *int           `json:"score"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

type LeaderboardEntry struct {
	UserID      string    `json:"user_id"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func NewPlayer(p Profile, now time.Time) Player {
	pl := Player{ID: p.UserID, Name: p.Name, JoinedAt: now}
	if pl.Name == "" {
		pl.Name = "Anonymous"
	}
	if p.AvatarURL != "" {
		avatar := p.AvatarURL
		pl.Avatar = &avatar
	}
	if p.SocketID != "" {
		sid := p.SocketID
		pl.SocketID = &sid
	}
	return pl
}
