package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

type createRequest struct {
	QuizID string `json:"quiz_id" validate:"required"`
}

type joinRequest struct {
	JoinCode string `json:"join_code" validate:"required"`
}

type submitRequest struct {
	Answers map[string]any `json:"answers"`
	Score   *int           `json:"score"`
}

type messageResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func caller(r *http.Request) session.Identity {
	id, _ := IdentityFrom(r.Context())
	return *id
}

func profileOf(id session.Identity) session.Profile {
	return session.Profile{UserID: id.ID, Name: id.DisplayName(), AvatarURL: id.AvatarURL}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.coord.CreateSession(r.Context(), req.QuizID, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Session created", Data: sess})
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.coord.JoinSession(r.Context(), req.JoinCode, profileOf(caller(r)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Joined session", Data: sess})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Data: sess})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.StartSession(r.Context(), chi.URLParam(r, "sessionID"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Session started", Data: sess})
}

func (s *Server) submitAnswers(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coord.SubmitAnswers(r.Context(), chi.URLParam(r, "sessionID"), caller(r).ID, req.Answers, req.Score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Answers submitted", Data: res})
}

func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.LeaveSession(r.Context(), chi.URLParam(r, "sessionID"), caller(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Left session", Data: sess})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sess, board, err := s.coord.EndSession(r.Context(), chi.URLParam(r, "sessionID"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if board == nil {
		board = []session.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Message     string                     `json:"message"`
		Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
		Data        *session.Session           `json:"data"`
	}{Message: "Session ended", Leaderboard: board, Data: sess})
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.coord.Leaderboard(r.Context(), chi.URLParam(r, "sessionID"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if board == nil {
		board = []session.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, struct {
		Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
	}{Leaderboard: board})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
		return
	}
	w.WriteHeader(http.StatusOK)
}
