package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/auth"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/coordinator"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/store/memory"
)

const (
	hostToken    = "host-token"
	studentToken = "student-token"
	otherToken   = "other-token"
	adminToken   = "admin-token"
)

var identities = auth.Static{
	hostToken:    {ID: "H", Role: session.RoleTeacher, Name: "Ms Host"},
	studentToken: {ID: "U1", Role: session.RoleStudent, Name: "Ada", AvatarURL: "https://img/ada.png"},
	otherToken:   {ID: "U2", Role: session.RoleStudent, Email: "bob@example.com"},
	adminToken:   {ID: "A", Role: session.RoleAdmin},
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("db down") }

type env struct {
	srv *httptest.Server
	reg *prometheus.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	coord := coordinator.New(st, nil, zap.NewNop(), coordinator.WithMetrics(m))
	h := SetupRoutes(Deps{
		Coordinator: coord,
		Auth:        identities,
		Health:      st,
		Gatherer:    reg,
		Metrics:     m,
		Log:         zap.NewNop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, reg: reg}
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (e *env) create(t *testing.T) map[string]any {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/multiplayer/create", hostToken, map[string]string{"quiz_id": "Q1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["data"].(map[string]any)
}

func TestCreateAndJoin(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/multiplayer/create", hostToken, map[string]string{"quiz_id": "Q1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Session created", body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "H", data["host_id"])
	assert.Equal(t, false, data["is_started"])
	assert.Len(t, data["join_code"], 6)
	assert.Empty(t, data["players"])

	code := strings.ToLower(data["join_code"].(string))
	resp, body = e.do(t, http.MethodPost, "/api/multiplayer/join", studentToken, map[string]string{"join_code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	players := body["data"].(map[string]any)["players"].([]any)
	require.Len(t, players, 1)
	p := players[0].(map[string]any)
	assert.Equal(t, "U1", p["id"])
	assert.Equal(t, "Ada", p["name"])
	assert.Equal(t, "https://img/ada.png", p["avatar"])
	assert.Nil(t, p["socket_id"])

	// display name falls back to email
	resp, body = e.do(t, http.MethodPost, "/api/multiplayer/join", otherToken, map[string]string{"join_code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	players = body["data"].(map[string]any)["players"].([]any)
	assert.Equal(t, "bob@example.com", players[1].(map[string]any)["name"])
}

func TestCreate_Errors(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/multiplayer/create", studentToken, map[string]string{"quiz_id": "Q1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, body = e.do(t, http.MethodPost, "/api/multiplayer/create", hostToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "quiz_id")

	resp, _ = e.do(t, http.MethodPost, "/api/multiplayer/create", "", map[string]string{"quiz_id": "Q1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/multiplayer/create", "bogus", map[string]string{"quiz_id": "Q1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoin_Errors(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/multiplayer/join", studentToken, map[string]string{"join_code": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/multiplayer/join", studentToken, map[string]string{"join_code": "ZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	data := e.create(t)
	id := data["id"].(string)
	resp, _ = e.do(t, http.MethodPost, "/api/multiplayer/"+id+"/start", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/multiplayer/join", studentToken, map[string]string{"join_code": data["join_code"].(string)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "already started")
}

func TestGetSession(t *testing.T) {
	e := newEnv(t)
	data := e.create(t)

	resp, body := e.do(t, http.MethodGet, "/api/multiplayer/"+data["id"].(string), studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data["id"], body["data"].(map[string]any)["id"])

	resp, _ = e.do(t, http.MethodGet, "/api/multiplayer/does-not-exist", studentToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartEndLifecycle(t *testing.T) {
	e := newEnv(t)
	data := e.create(t)
	id := data["id"].(string)
	base := "/api/multiplayer/" + id

	resp, _ := e.do(t, http.MethodPost, base+"/start", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, base+"/end", hostToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "cannot end before start")

	resp, body := e.do(t, http.MethodPost, base+"/start", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["is_started"])

	resp, body = e.do(t, http.MethodPost, base+"/submit", studentToken, map[string]any{"answers": map[string]any{"q1": "a"}, "score": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "U1", body["data"].(map[string]any)["user_id"])

	resp, _ = e.do(t, http.MethodPost, base+"/submit", studentToken, map[string]any{"answers": map[string]any{}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, base+"/submit", otherToken, map[string]any{"answers": map[string]any{"q1": "b"}, "score": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, base+"/leaderboard", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, base+"/end", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Session ended", body["message"])
	board := body["leaderboard"].([]any)
	require.Len(t, board, 2)
	assert.Equal(t, "U2", board[0].(map[string]any)["user_id"])
	assert.Equal(t, float64(7), board[0].(map[string]any)["score"])
	assert.Equal(t, true, body["data"].(map[string]any)["is_ended"])

	resp, body = e.do(t, http.MethodGet, base+"/leaderboard", hostToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["leaderboard"], 2)

	resp, _ = e.do(t, http.MethodPost, base+"/end", hostToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLeave(t *testing.T) {
	e := newEnv(t)
	data := e.create(t)
	id := data["id"].(string)

	resp, _ := e.do(t, http.MethodPost, "/api/multiplayer/join", studentToken, map[string]string{"join_code": data["join_code"].(string)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp, body := e.do(t, http.MethodPost, "/api/multiplayer/"+id+"/leave", studentToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, body["data"].(map[string]any)["players"])
	}
}

func TestLeaderboardExport(t *testing.T) {
	e := newEnv(t)
	data := e.create(t)
	base := "/api/multiplayer/" + data["id"].(string)

	resp, _ := e.do(t, http.MethodPost, base+"/submit", studentToken, map[string]any{"answers": map[string]any{}, "score": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+base+"/leaderboard.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+hostToken)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(res.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(leaderboardSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Rank", "User", "Score", "Submitted at"}, rows[0])
	assert.Equal(t, "U1", rows[1][1])
	assert.Equal(t, "4", rows[1][2])
}

func TestSanitizeForExcel(t *testing.T) {
	assert.Equal(t, "'=SUM(A1)", sanitizeForExcel("=SUM(A1)"))
	assert.Equal(t, "alice", sanitizeForExcel("alice"))
	assert.Equal(t, "", sanitizeForExcel(""))
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_ = e.create(t)
	res, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	assert.Contains(t, buf.String(), "quiz_http_request_duration_seconds")
	assert.Contains(t, buf.String(), `route="/api/multiplayer/create"`)

	h := SetupRoutes(Deps{Auth: identities, Health: downPinger{}, Log: zap.NewNop()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		coordinator.ErrAlreadyStarted: http.StatusBadRequest,
		coordinator.ErrResubmission:   http.StatusConflict,
		session.ErrValidation:         http.StatusBadRequest,
		session.ErrNotFound:           http.StatusNotFound,
		session.ErrForbidden:          http.StatusForbidden,
		session.ErrTransient:          http.StatusServiceUnavailable,
		errors.New("boom"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
