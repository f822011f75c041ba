package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(roster []Player) []string {
	out := make([]string, 0, len(roster))
	for _, p := range roster {
		out = append(out, p.ID)
	}
	return out
}

func intp(v int) *int { return &v }

func TestUpsertPlayer_RejoinKeepsPosition(t *testing.T) {
	now := time.Now()
	roster := []Player{}
	roster = UpsertPlayer(roster, NewPlayer(Profile{UserID: "u1", Name: "One"}, now))
	roster = UpsertPlayer(roster, NewPlayer(Profile{UserID: "u2", Name: "Two"}, now))
	roster = UpsertPlayer(roster, NewPlayer(Profile{UserID: "u1", Name: "Uno"}, now.Add(time.Second)))

	require.Equal(t, []string{"u1", "u2"}, ids(roster))
	assert.Equal(t, "Uno", roster[0].Name)
	assert.Equal(t, now.Add(time.Second), roster[0].JoinedAt)
}

func TestUpsertPlayer_DoesNotAliasInput(t *testing.T) {
	orig := []Player{{ID: "u1", Name: "One"}}
	_ = UpsertPlayer(orig, Player{ID: "u1", Name: "Changed"})
	assert.Equal(t, "One", orig[0].Name)
}

func TestRemovePlayer(t *testing.T) {
	cases := []struct {
		name    string
		roster  []Player
		id      string
		want    []string
		changed bool
	}{
		{name: "present", roster: []Player{{ID: "a"}, {ID: "b"}, {ID: "c"}}, id: "b", want: []string{"a", "c"}, changed: true},
		{name: "absent", roster: []Player{{ID: "a"}}, id: "zz", want: []string{"a"}, changed: false},
		{name: "empty", roster: nil, id: "a", want: []string{}, changed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := RemovePlayer(tc.roster, tc.id)
			assert.Equal(t, tc.changed, changed)
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestRemoveIfBound(t *testing.T) {
	roster := []Player{
		NewPlayer(Profile{UserID: "rest"}, time.Now()),
		NewPlayer(Profile{UserID: "ws", SocketID: "sock-2"}, time.Now()),
	}

	_, changed := RemoveIfBound(roster, "rest", "sock-1")
	assert.False(t, changed, "REST-only entries have no socket to match")

	_, changed = RemoveIfBound(roster, "ws", "sock-1")
	assert.False(t, changed, "stale socket must not evict a reconnected player")

	got, changed := RemoveIfBound(roster, "ws", "sock-2")
	assert.True(t, changed)
	assert.Equal(t, []string{"rest"}, ids(got))
}

func TestBuildLeaderboard(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		results []Result
		want    []string
	}{
		{
			name: "score descending, missing score is zero",
			results: []Result{
				{UserID: "U1", SubmittedAt: t0},
				{UserID: "U2", Score: intp(5), SubmittedAt: t0.Add(time.Second)},
			},
			want: []string{"U2", "U1"},
		},
		{
			name: "tie goes to earlier submission",
			results: []Result{
				{UserID: "late", Score: intp(3), SubmittedAt: t0.Add(time.Minute)},
				{UserID: "early", Score: intp(3), SubmittedAt: t0},
			},
			want: []string{"early", "late"},
		},
		{
			name: "full tie falls back to user id",
			results: []Result{
				{UserID: "b", Score: intp(1), SubmittedAt: t0},
				{UserID: "a", Score: intp(1), SubmittedAt: t0},
			},
			want: []string{"a", "b"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			board := BuildLeaderboard(tc.results)
			got := make([]string, 0, len(board))
			for _, e := range board {
				got = append(got, e.UserID)
			}
			assert.Equal(t, tc.want, got)

			// Reversing the input must not change the ranking.
			rev := make([]Result, len(tc.results))
			for i, r := range tc.results {
				rev[len(rev)-1-i] = r
			}
			assert.Equal(t, board, BuildLeaderboard(rev))
		})
	}
}

func TestJoinCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateJoinCode()
		require.NoError(t, err)
		require.Len(t, code, JoinCodeLength)
		require.True(t, ValidJoinCode(code), code)
	}

	assert.Equal(t, "AB12CD", NormalizeJoinCode("  ab12cd "))
	assert.False(t, ValidJoinCode("ab12cd"))
	assert.False(t, ValidJoinCode("AB12C"))
	assert.False(t, ValidJoinCode("AB-2CD"))
}

func TestIdentity(t *testing.T) {
	s := &Session{HostID: "h"}
	assert.True(t, s.CanControl(Identity{ID: "h", Role: RoleStudent}))
	assert.True(t, s.CanControl(Identity{ID: "x", Role: RoleAdmin}))
	assert.False(t, s.CanControl(Identity{ID: "x", Role: RoleTeacher}))

	assert.Equal(t, "a@b.c", Identity{Email: "a@b.c"}.DisplayName())
	assert.Equal(t, "Anonymous", Identity{}.DisplayName())
	assert.False(t, Identity{Role: RoleStudent}.CanHost())
}
