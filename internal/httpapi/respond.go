package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/coordinator"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	switch {
	// joining a running game is reported as a bad request, not a conflict
	case errors.Is(err, coordinator.ErrAlreadyStarted):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		s.log.Error("store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", session.ErrValidation)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s is %s: %w", verrs[0].Field(), verrs[0].Tag(), session.ErrValidation)
		}
		return fmt.Errorf("%v: %w", err, session.ErrValidation)
	}
	return nil
}
