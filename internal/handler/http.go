package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leaderboard-ledger/internal/auth"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/metrics"
	"github.com/leaderboard-ledger/internal/store"
	"github.com/leaderboard-ledger/internal/websocket"
)

// Ledger is the set of operations the API exposes
type Ledger interface {
	Initialize(ctx context.Context, caller domain.Identity) error
	RegisterPlayer(ctx context.Context, caller domain.Identity) (*domain.PlayerRecord, error)
	SubmitScore(ctx context.Context, caller domain.Identity, sub domain.ScoreSubmission) (*domain.SubmitResult, error)
	QueryLeaderboard(ctx context.Context) (*domain.LeaderboardSnapshot, error)
	GetPlayer(ctx context.Context, id domain.Identity) (*domain.PlayerRecord, error)
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the ledger API
type Handler struct {
	ledger   Ledger
	hub      *websocket.Hub
	metrics  *metrics.Manager
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. A nil verifier trusts the
// auth.IdentityHeader set by the gateway; a nil metrics manager disables
// /metrics.
func NewHandler(ledger Ledger, hub *websocket.Hub, m *metrics.Manager, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		hub:      hub,
		metrics:  m,
		verifier: verifier,
		logger:   logger,
	}
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
	r.Use(auth.Middleware(h.verifier))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaderboard", func(r chi.Router) {
			r.Post("/", h.Initialize)
			r.Get("/", h.QueryLeaderboard)
		})

		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.RegisterPlayer)
			r.Get("/{playerID}", h.GetPlayer)
			r.Post("/{playerID}/scores", h.SubmitPlayerScore)
		})

		r.Post("/scores", h.SubmitScore)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, "+auth.IdentityHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
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
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err to a status code and writes it. Errors outside the
// ledger's taxonomy are logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		err = domain.ErrInternalError
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case domain.IsAuthorizationError(err):
		return http.StatusForbidden
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyInitialized), errors.Is(err, domain.ErrPlayerAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// caller returns the authenticated identity of the request
func (h *Handler) caller(r *http.Request) (domain.Identity, error) {
	return auth.IdentityFrom(r.Context())
}

// HandleWebSocket handles WebSocket upgrade requests. Authenticated callers
// start subscribed to their own player channel.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var channels []string
	if id, err := h.caller(r); err == nil {
		channels = append(channels, websocket.PlayerChannel(id))
	}
	websocket.ServeWs(h.hub, h.logger, w, r, channels...)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the record store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   "record store unavailable",
		})
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Initialize creates the leaderboard with the caller as administrator
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.ledger.Initialize(r.Context(), caller); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, map[string]string{"administrator": caller.String()})
}

// QueryLeaderboard returns the leaderboard aggregates
func (h *Handler) QueryLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.QueryLeaderboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, snap)
}

// RegisterPlayer creates the caller's player record
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	player, err := h.ledger.RegisterPlayer(r.Context(), caller)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, player)
}

// GetPlayer returns a player record
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity(chi.URLParam(r, "playerID"))
	player, err := h.ledger.GetPlayer(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, player)
}

// SubmitScore handles score submission for the caller
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var sub domain.ScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest)
		return
	}
	h.submit(w, r, sub)
}

// SubmitPlayerScore handles score submission addressed to a player record
func (h *Handler) SubmitPlayerScore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score uint64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest)
		return
	}
	h.submit(w, r, domain.ScoreSubmission{
		Player: domain.Identity(chi.URLParam(r, "playerID")),
		Score:  body.Score,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, sub domain.ScoreSubmission) {
	caller, err := h.caller(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.SubmitScore(r.Context(), caller, sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, result)
}
