package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/challenge-ladder/internal/auth"
	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/memory"
	"github.com/challenge-ladder/internal/service"
)

var wednesday = time.Date(2024, time.January, 10, 15, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
	tokens *auth.Provider
	store  *memory.Store
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	require.NoError(t, store.Seed(
		domain.Player{ID: "p1", Username: "alice", Rank: 1},
		domain.Player{ID: "p2", Username: "bob", Rank: 2},
		domain.Player{ID: "p3", Username: "carol", Rank: 3},
	))

	cfg := config.DefaultConfig()
	cfg.Challenge.TierSizes = []int{3}
	svc, err := service.NewLadderService(store, &cfg.Challenge, &cfg.Ladder, logger,
		service.WithClock(func() time.Time { return wednesday }))
	require.NoError(t, err)

	tokens := auth.NewProvider("handler-test-secret", time.Hour)
	h := NewHandler(svc, tokens, nil, logger, opts...)
	return &testServer{t: t, router: h.Router(), tokens: tokens, store: store}
}

func (s *testServer) token(playerID string, role auth.Role) string {
	s.t.Helper()
	token, err := s.tokens.GenerateToken(playerID, role)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) (int, APIResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (s *testServer) createChallenge(challenger, challengee string) string {
	s.t.Helper()
	code, resp := s.do(http.MethodPost, "/api/v1/challenges", s.token(challenger, auth.RolePlayer),
		domain.CreateChallengeRequest{ChallengeeID: challengee})
	require.Equal(s.t, http.StatusCreated, code, resp.Error)
	data := resp.Data.(map[string]interface{})
	return data["id"].(string)
}

func (s *testServer) rank(playerID string) int {
	s.t.Helper()
	p, err := s.store.GetPlayer(context.Background(), playerID)
	require.NoError(s.t, err)
	return p.Rank
}

func TestRegisterPlayer(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/api/v1/players", "", domain.RegisterPlayerRequest{Username: "dave"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, float64(4), resp.Data.(map[string]interface{})["rank"])

	code, resp = s.do(http.MethodPost, "/api/v1/players", "", domain.RegisterPlayerRequest{Username: "dave"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Player username already exists.", resp.Error)

	code, _ = s.do(http.MethodPost, "/api/v1/players", "", domain.RegisterPlayerRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestChallengeRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodPost, "/api/v1/challenges", "", domain.CreateChallengeRequest{ChallengeeID: "p1"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/api/v1/challenges", "garbage", domain.CreateChallengeRequest{ChallengeeID: "p1"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateChallengeRejections(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/api/v1/challenges", s.token("p1", auth.RolePlayer),
		domain.CreateChallengeRequest{ChallengeeID: "p2"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "You cannot challenge an opponent below your rank.", resp.Error)

	code, _ = s.do(http.MethodPost, "/api/v1/challenges", s.token("p1", auth.RolePlayer),
		domain.CreateChallengeRequest{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/challenges", s.token("p1", auth.RolePlayer),
		domain.CreateChallengeRequest{ChallengeeID: "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResolveChallengeFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createChallenge("p2", "p1")
	path := "/api/v1/challenges/" + id + "/resolve"

	three, one := 3.0, 1.0

	code, resp := s.do(http.MethodPost, path, s.token("p3", auth.RolePlayer),
		domain.ResolveChallengeRequest{ChallengerScore: &one, ChallengeeScore: &three})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Only an involved player can resolve this challenge.", resp.Error)

	code, _ = s.do(http.MethodPost, path, s.token("p1", auth.RolePlayer),
		domain.ResolveChallengeRequest{ChallengerScore: &one})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(http.MethodPost, path, s.token("p1", auth.RolePlayer),
		domain.ResolveChallengeRequest{ChallengerScore: &one, ChallengeeScore: &three})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, string(domain.StatusResolved), resp.Data.(map[string]interface{})["status"])
	assert.Equal(t, 2, s.rank("p1"))
	assert.Equal(t, 1, s.rank("p2"))

	code, resp = s.do(http.MethodPost, path, s.token("p1", auth.RolePlayer),
		domain.ResolveChallengeRequest{ChallengerScore: &one, ChallengeeScore: &three})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "This challenge is no longer pending.", resp.Error)
}

func TestRevokeAndForfeit(t *testing.T) {
	s := newTestServer(t)
	id := s.createChallenge("p2", "p1")

	code, _ := s.do(http.MethodDelete, "/api/v1/challenges/"+id, s.token("p1", auth.RolePlayer), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodDelete, "/api/v1/challenges/"+id, s.token("p2", auth.RolePlayer), nil)
	assert.Equal(t, http.StatusOK, code)

	id = s.createChallenge("p3", "p2")
	code, _ = s.do(http.MethodPost, "/api/v1/challenges/"+id+"/forfeit", s.token("p2", auth.RolePlayer), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodGet, "/api/v1/challenges/missing", s.token("p2", auth.RolePlayer), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	body := domain.ExchangeRanksRequest{PlayerAID: "p1", PlayerBID: "p3"}

	code, _ := s.do(http.MethodPost, "/api/v1/admin/exchange", s.token("p1", auth.RolePlayer), body)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, 1, s.rank("p1"))

	admin := s.token("root", auth.RoleAdmin)
	code, resp := s.do(http.MethodPost, "/api/v1/admin/exchange", admin, body)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, 3, s.rank("p1"))
	assert.Equal(t, 1, s.rank("p3"))

	code, _ = s.do(http.MethodPost, "/api/v1/admin/exchange", admin, domain.ExchangeRanksRequest{PlayerAID: "p1", PlayerBID: "p1"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	id := s.createChallenge("p2", "p3")
	code, _ = s.do(http.MethodPost, "/api/v1/admin/challenges/"+id+"/forfeit", admin, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(http.MethodGet, "/api/v1/admin/verify", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["healthy"])
}

func TestStandingsAndRecord(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodGet, "/api/v1/ladder?start=0&end=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	rows := resp.Data.([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].(map[string]interface{})["username"])

	code, resp = s.do(http.MethodGet, "/api/v1/players/p2/record", s.token("p2", auth.RolePlayer), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p2", resp.Data.(map[string]interface{})["player_id"])

	code, resp = s.do(http.MethodGet, "/api/v1/players/p2/challenges", s.token("p2", auth.RolePlayer), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Data)
}

func TestReadyCheck(t *testing.T) {
	s := newTestServer(t, WithReadinessCheck("postgres", func(context.Context) error {
		return errors.New("connection refused")
	}))

	code, resp := s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", resp.Data.(map[string]interface{})["postgres"])

	code, _ = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusForKinds(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrTierTooFar))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrScoreTooMany))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrNotChallenger))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrPlayerNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrChallengeNotPending))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.Persistence("x", errors.New("boom"))))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
