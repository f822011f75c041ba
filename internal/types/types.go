package types

import (
	"encoding/json"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

// Inbound event types.
const (
	JoinSession   = "join_session"
	LeaveSession  = "leave_session"
	SubmitAnswers = "submit_answers"
)

// Outbound event types, scoped to one session's channel except Error.
const (
	LobbyUpdate     = "lobby_update"
	SessionStarted  = "session_started"
	PlayerSubmitted = "player_submitted"
	SessionEnded    = "session_ended"
	Error           = "error"
)

type ClientUser struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type ClientMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	User      *ClientUser    `json:"user,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Answers   map[string]any `json:"answers,omitempty"`
	Score     *int           `json:"score,omitempty"`
}

type ServerMessage struct {
	Type        string                     `json:"type"`
	SessionID   string                     `json:"session_id,omitempty"`
	Version     int64                      `json:"version,omitempty"` // session version the roster was read at
	Players     []session.Player           `json:"players,omitempty"`
	UserID      string                     `json:"user_id,omitempty"`
	Result      *session.Result            `json:"result,omitempty"`
	Leaderboard []session.LeaderboardEntry `json:"leaderboard,omitempty"`
	Message     string                     `json:"message,omitempty"`
}

// MarshalJSON always writes players on lobby_update and leaderboard on
// session_ended, even when they are empty.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	type plain ServerMessage
	switch m.Type {
	case LobbyUpdate:
		players := m.Players
		if players == nil {
			players = []session.Player{}
		}
		return json.Marshal(struct {
			plain
			Players []session.Player `json:"players"`
		}{plain(m), players})
	case SessionEnded:
		board := m.Leaderboard
		if board == nil {
			board = []session.LeaderboardEntry{}
		}
		return json.Marshal(struct {
			plain
			Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
		}{plain(m), board})
	}
	return json.Marshal(plain(m))
}

func NewLobbyUpdate(s *session.Session) ServerMessage {
	players := s.Players
	if players == nil {
		players = []session.Player{}
	}
	return ServerMessage{Type: LobbyUpdate, SessionID: s.ID, Version: s.Version, Players: players}
}

func NewSessionStarted(sessionID string) ServerMessage {
	return ServerMessage{Type: SessionStarted, SessionID: sessionID}
}

func NewPlayerSubmitted(r *session.Result) ServerMessage {
	return ServerMessage{Type: PlayerSubmitted, SessionID: r.SessionID, UserID: r.UserID, Result: r}
}

func NewSessionEnded(sessionID string, board []session.LeaderboardEntry) ServerMessage {
	if board == nil {
		board = []session.LeaderboardEntry{}
	}
	return ServerMessage{Type: SessionEnded, SessionID: sessionID, Leaderboard: board}
}

func NewError(msg string) ServerMessage {
	return ServerMessage{Type: Error, Message: msg}
}
