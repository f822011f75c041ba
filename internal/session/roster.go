package session

import (
	"cmp"
	"slices"
)

// UpsertPlayer replaces the entry for p.ID where it already sits, or appends it.
// A rejoining player keeps their original position.
func UpsertPlayer(roster []Player, p Player) []Player {
	out := append([]Player(nil), roster...)
	if i := indexOf(out, p.ID); i >= 0 {
		out[i] = p
		return out
	}
	return append(out, p)
}

// RemovePlayer drops the entry for id. The bool is false when id was absent.
func RemovePlayer(roster []Player, id string) ([]Player, bool) {
	i := indexOf(roster, id)
	if i < 0 {
		return roster, false
	}
	out := append([]Player(nil), roster[:i]...)
	return append(out, roster[i+1:]...), true
}

// RemoveIfBound removes id only while its entry is still bound to socketID.
func RemoveIfBound(roster []Player, id, socketID string) ([]Player, bool) {
	i := indexOf(roster, id)
	if i < 0 || roster[i].SocketID == nil || *roster[i].SocketID != socketID {
		return roster, false
	}
	return RemovePlayer(roster, id)
}

func HasPlayer(roster []Player, id string) bool { return indexOf(roster, id) >= 0 }

func indexOf(roster []Player, id string) int {
	return slices.IndexFunc(roster, func(p Player) bool { return p.ID == id })
}

// BuildLeaderboard ranks results by score, highest first. A missing score counts as 0.
// Ties go to the earlier submission, then to the lower user id so the order is total.
func BuildLeaderboard(results []Result) []LeaderboardEntry {
	board := make([]LeaderboardEntry, 0, len(results))
	for _, r := range results {
		e := LeaderboardEntry{UserID: r.UserID, SubmittedAt: r.SubmittedAt}
		if r.Score != nil {
			e.Score = *r.Score
		}
		board = append(board, e)
	}
	slices.SortStableFunc(board, func(a, b LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return board
}
