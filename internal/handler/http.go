package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/challenge-ladder/internal/auth"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/ladder"
	"github.com/challenge-ladder/internal/websocket"
)

// Ladder is the set of ladder operations served over HTTP
type Ladder interface {
	RegisterPlayer(ctx context.Context, req domain.RegisterPlayerRequest) (*domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	PlayerRecord(ctx context.Context, playerID string) (*domain.PlayerRecord, error)
	PlayerChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error)
	Standings(ctx context.Context, start, end int) ([]domain.Standing, error)

	CreateChallenge(ctx context.Context, challengerID, challengeeID string) (*domain.Challenge, error)
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)
	RevokeChallenge(ctx context.Context, challengeID, actorID string) error
	ResolveChallenge(ctx context.Context, challengeID, actorID string, challengerScore, challengeeScore float64) (*domain.Challenge, error)
	ForfeitChallenge(ctx context.Context, challengeID, actorID string) (*domain.Challenge, error)

	ExchangeRanks(ctx context.Context, playerAID, playerBID string) (*domain.RankExchange, error)
	VerifyLadder(ctx context.Context) ([]ladder.Anomaly, error)
	RebuildStandings(ctx context.Context) (int, error)
}

// TokenValidator turns a bearer token into the caller it identifies
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the ladder API
type Handler struct {
	ladder  Ladder
	tokens  TokenValidator
	hub     *websocket.Hub
	metrics http.Handler
	checks  map[string]ReadinessCheck
	logger  *slog.Logger
}

// Option configures optional parts of the Handler
type Option func(*Handler)

// WithMetricsHandler serves the given handler at /metrics
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReadinessCheck adds a named dependency check to /ready
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// NewHandler creates a new HTTP handler
func NewHandler(ladder Ladder, tokens TokenValidator, hub *websocket.Hub, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		ladder: ladder,
		tokens: tokens,
		hub:    hub,
		checks: make(map[string]ReadinessCheck),
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/players", h.RegisterPlayer)
		r.Get("/ladder", h.GetStandings)
		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Route("/players/{playerID}", func(r chi.Router) {
				r.Get("/", h.GetPlayer)
				r.Get("/record", h.GetPlayerRecord)
				r.Get("/challenges", h.GetPlayerChallenges)
			})

			r.Route("/challenges", func(r chi.Router) {
				r.Post("/", h.CreateChallenge)
				r.Route("/{challengeID}", func(r chi.Router) {
					r.Get("/", h.GetChallenge)
					r.Delete("/", h.RevokeChallenge)
					r.Post("/resolve", h.ResolveChallenge)
					r.Post("/forfeit", h.ForfeitChallenge)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireAdmin)
				r.Post("/exchange", h.ExchangeRanks)
				r.Post("/challenges/{challengeID}/forfeit", h.AdminForfeitChallenge)
				r.Get("/verify", h.VerifyLadder)
				r.Post("/standings/rebuild", h.RebuildStandings)
			})
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer token into the acting player
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}

		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

var errAdminOnly = errors.New("administrator role required")

// requireAdmin only lets administrators through
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok || !claims.IsAdmin() {
			h.writeError(w, http.StatusForbidden, errAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeLadderError maps a ladder error kind onto an HTTP status. Store
// failures are logged and hidden behind a generic message.
func (h *Handler) writeLadderError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, status, domain.ErrInternalError)
		return
	}
	h.writeError(w, status, errors.New(domain.Reason(err)))
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrBusinessRule:
		return http.StatusUnprocessableEntity
	case domain.ErrInvalidScore:
		return http.StatusBadRequest
	case domain.ErrUnauthorized:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"ladder_watchers":   h.hub.GetSubscriberCount(websocket.LadderChannel),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every dependency check and reports 503 if any fails
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	failed := make(map[string]string)
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    failed,
			Error:   "not ready",
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// RegisterPlayer adds a player at the bottom of the ladder
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterPlayerRequest
	if !h.decode(w, r, &req) {
		return
	}

	player, err := h.ladder.RegisterPlayer(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.writeLadderError(w, "register player", err)
		return
	}

	h.writeCreated(w, player)
}

// GetStandings returns ladder rows within a 0-indexed position range
func (h *Handler) GetStandings(w http.ResponseWriter, r *http.Request) {
	start := 0
	end := -1
	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if s, err := strconv.Atoi(startStr); err == nil && s >= 0 {
			start = s
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if e, err := strconv.Atoi(endStr); err == nil && e >= start {
			end = e
		}
	}

	standings, err := h.ladder.Standings(r.Context(), start, end)
	if err != nil {
		h.writeLadderError(w, "get standings", err)
		return
	}

	h.writeSuccess(w, standings)
}

// GetPlayer returns a player by ID
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.ladder.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeLadderError(w, "get player", err)
		return
	}

	h.writeSuccess(w, player)
}

// GetPlayerRecord returns a player's wins and losses
func (h *Handler) GetPlayerRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.ladder.PlayerRecord(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeLadderError(w, "get player record", err)
		return
	}

	h.writeSuccess(w, record)
}

// GetPlayerChallenges returns every challenge a player took part in
func (h *Handler) GetPlayerChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.ladder.PlayerChallenges(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeLadderError(w, "get player challenges", err)
		return
	}
	if challenges == nil {
		challenges = []domain.Challenge{}
	}

	h.writeSuccess(w, challenges)
}

// CreateChallenge issues a challenge from the caller
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ChallengeeID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	challenge, err := h.ladder.CreateChallenge(r.Context(), auth.PlayerID(r.Context()), req.ChallengeeID)
	if err != nil {
		h.writeLadderError(w, "create challenge", err)
		return
	}

	h.writeCreated(w, challenge)
}

// GetChallenge returns a challenge by ID
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.ladder.GetChallenge(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		h.writeLadderError(w, "get challenge", err)
		return
	}

	h.writeSuccess(w, challenge)
}

// RevokeChallenge withdraws the caller's pending challenge
func (h *Handler) RevokeChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challengeID")
	if err := h.ladder.RevokeChallenge(r.Context(), challengeID, auth.PlayerID(r.Context())); err != nil {
		h.writeLadderError(w, "revoke challenge", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": string(domain.StatusRevoked)})
}

// ResolveChallenge records the final score reported by an involved player
func (h *Handler) ResolveChallenge(w http.ResponseWriter, r *http.Request) {
	var req domain.ResolveChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}

	challenge, err := h.ladder.ResolveChallenge(r.Context(),
		chi.URLParam(r, "challengeID"),
		auth.PlayerID(r.Context()),
		scoreOrNaN(req.ChallengerScore),
		scoreOrNaN(req.ChallengeeScore),
	)
	if err != nil {
		h.writeLadderError(w, "resolve challenge", err)
		return
	}

	h.writeSuccess(w, challenge)
}

// ForfeitChallenge ends the caller's pending challenge without a score
func (h *Handler) ForfeitChallenge(w http.ResponseWriter, r *http.Request) {
	h.forfeit(w, r, auth.PlayerID(r.Context()))
}

// AdminForfeitChallenge ends any pending challenge without a score
func (h *Handler) AdminForfeitChallenge(w http.ResponseWriter, r *http.Request) {
	h.forfeit(w, r, "")
}

func (h *Handler) forfeit(w http.ResponseWriter, r *http.Request, actorID string) {
	challenge, err := h.ladder.ForfeitChallenge(r.Context(), chi.URLParam(r, "challengeID"), actorID)
	if err != nil {
		h.writeLadderError(w, "forfeit challenge", err)
		return
	}

	h.writeSuccess(w, challenge)
}

// ExchangeRanks swaps two players' ranks outside of any challenge
func (h *Handler) ExchangeRanks(w http.ResponseWriter, r *http.Request) {
	var req domain.ExchangeRanksRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerAID == "" || req.PlayerBID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	exchange, err := h.ladder.ExchangeRanks(r.Context(), req.PlayerAID, req.PlayerBID)
	if err != nil {
		h.writeLadderError(w, "exchange ranks", err)
		return
	}

	h.writeSuccess(w, exchange)
}

// VerifyLadder reports broken rank invariants
func (h *Handler) VerifyLadder(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.ladder.VerifyLadder(r.Context())
	if err != nil {
		h.writeLadderError(w, "verify ladder", err)
		return
	}

	problems := make([]string, len(anomalies))
	for i, a := range anomalies {
		problems[i] = a.String()
	}
	h.writeSuccess(w, map[string]interface{}{
		"healthy":   len(anomalies) == 0,
		"anomalies": problems,
	})
}

// RebuildStandings reloads the standings cache from the store
func (h *Handler) RebuildStandings(w http.ResponseWriter, r *http.Request) {
	n, err := h.ladder.RebuildStandings(r.Context())
	if err != nil {
		h.writeLadderError(w, "rebuild standings", err)
		return
	}

	h.writeSuccess(w, map[string]int{"players": n})
}

// scoreOrNaN maps a missing score to NaN, which score validation rejects.
func scoreOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
