// Package client keeps a player's local picture of one session consistent across
// REST responses and channel events, and dials the websocket endpoint to feed it.
package client

import (
	"slices"
	"sync"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

// State is a copy of the view at one moment.
type State struct {
	SessionID   string
	Players     []session.Player
	Submitted   []string
	IsStarted   bool
	IsEnded     bool
	Leaderboard []session.LeaderboardEntry
	LastError   string
}

// View never edits the roster on its own. Roster changes only arrive as whole
// lobby_update payloads, which replace the local copy unless they are older than it.
type View struct {
	mu            sync.RWMutex
	state         State
	rosterFresh   bool  // a lobby_update has been applied
	rosterVersion int64 // session version of the roster we hold
}

func NewView(sessionID string) *View {
	return &View{state: State{SessionID: sessionID, Players: []session.Player{}, Submitted: []string{}}}
}

// Seed takes what a REST call returned. The roster is only used until the first
// lobby_update arrives, and lifecycle flags never move backwards.
func (v *View) Seed(s *session.Session) {
	if s == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.SessionID == "" {
		v.state.SessionID = s.ID
	}
	if s.ID != v.state.SessionID {
		return
	}
	if !v.rosterFresh {
		v.state.Players = slices.Clone(s.Players)
		v.rosterVersion = s.Version
	}
	v.state.IsStarted = v.state.IsStarted || s.IsStarted || s.IsEnded
	v.state.IsEnded = v.state.IsEnded || s.IsEnded
}

// Apply folds one channel event into the view and reports whether anything visible changed.
func (v *View) Apply(msg types.ServerMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if msg.Type == types.Error {
		v.state.LastError = msg.Message
		return true
	}
	if msg.SessionID != v.state.SessionID {
		return false
	}

	switch msg.Type {
	case types.LobbyUpdate:
		// concurrent joins can publish out of commit order; an older roster never wins
		if msg.Version != 0 && msg.Version < v.rosterVersion {
			return false
		}
		v.rosterFresh = true
		if msg.Version != 0 {
			v.rosterVersion = msg.Version
		}
		if slices.EqualFunc(v.state.Players, msg.Players, samePlayer) {
			return false
		}
		v.state.Players = slices.Clone(msg.Players)
		if v.state.Players == nil {
			v.state.Players = []session.Player{}
		}
		return true

	case types.SessionStarted:
		if v.state.IsStarted {
			return false
		}
		v.state.IsStarted = true
		return true

	case types.PlayerSubmitted:
		if msg.UserID == "" || slices.Contains(v.state.Submitted, msg.UserID) {
			return false
		}
		v.state.Submitted = append(v.state.Submitted, msg.UserID)
		return true

	case types.SessionEnded:
		if v.state.IsEnded {
			return false
		}
		v.state.IsEnded = true
		v.state.IsStarted = true
		v.state.Leaderboard = slices.Clone(msg.Leaderboard)
		return true
	}
	return false
}

func (v *View) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := v.state
	s.Players = slices.Clone(v.state.Players)
	s.Submitted = slices.Clone(v.state.Submitted)
	s.Leaderboard = slices.Clone(v.state.Leaderboard)
	return s
}

func samePlayer(a, b session.Player) bool {
	return a.ID == b.ID && a.Name == b.Name && equalPtr(a.Avatar, b.Avatar) && equalPtr(a.SocketID, b.SocketID)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
