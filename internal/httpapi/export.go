package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
)

const leaderboardSheet = "Leaderboard"

// exportLeaderboard streams the ranking as an .xlsx workbook.
func (s *Server) exportLeaderboard(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	board, err := s.coord.Leaderboard(r.Context(), sessionID, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := leaderboardWorkbook(board)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"leaderboard-%s.xlsx\"", sessionID))
	if err := f.Write(w); err != nil {
		s.log.Warn("write leaderboard export", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func leaderboardWorkbook(board []session.LeaderboardEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", leaderboardSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	sw, err := f.NewStreamWriter(leaderboardSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stream writer: %w", err)
	}

	if err := sw.SetRow("A1", []any{"Rank", "User", "Score", "Submitted at"}); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, e := range board {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{i + 1, sanitizeForExcel(e.UserID), e.Score, e.SubmittedAt.UTC().Format(time.RFC3339)}
		if err := sw.SetRow(cell, row); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// sanitizeForExcel stops user-controlled strings from being read as formulas.
func sanitizeForExcel(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
