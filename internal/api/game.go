package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/game"
	"github.com/ashureev/neonrun/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// GameService is the orchestrator surface the HTTP layer needs.
type GameService interface {
	StartSession(ctx context.Context) (*game.StartResult, error)
	SubmitAction(ctx context.Context, sessionID, action string) (*game.ActionResult, error)
	GetHistory(ctx context.Context, sessionID string) (*game.History, error)
}

// StartResponse is returned by POST /api/game/start.
type StartResponse struct {
	SessionID string          `json:"sessionId"`
	Message   *domain.Message `json:"message"`
}

// ActionRequest is the body of POST /api/game/{sessionId}/action.
type ActionRequest struct {
	Action string `json:"action"`
}

// ActionResponse is returned after a successful turn.
type ActionResponse struct {
	Message  *domain.Message `json:"message"`
	Metadata domain.Stats    `json:"metadata"`
	Status   domain.Status   `json:"status"`
}

// HistoryResponse is returned by GET /api/game/{sessionId}.
type HistoryResponse struct {
	Session  *domain.Session  `json:"session"`
	Messages []domain.Message `json:"messages"`
}

// GameHandler serves the game endpoints.
type GameHandler struct {
	svc     GameService
	limiter *middleware.RateLimiter
}

// NewGameHandler creates a game handler. A nil limiter disables rate limiting.
func NewGameHandler(svc GameService, limiter *middleware.RateLimiter) *GameHandler {
	return &GameHandler{svc: svc, limiter: limiter}
}

// RegisterRoutes registers game routes.
func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/game", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Get("/{sessionId}", h.History)

		var limit []func(http.Handler) http.Handler
		if h.limiter != nil {
			limit = append(limit, middleware.RateLimit(h.limiter, sessionKey))
		}
		r.With(limit...).Post("/{sessionId}/action", h.Action)
	})
}

func sessionKey(r *http.Request) string {
	return chi.URLParam(r, "sessionId")
}

// Start creates a new session.
func (h *GameHandler) Start(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StartSession(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, StartResponse{
		SessionID: res.Session.SessionID,
		Message:   res.Message,
	})
}

// Action submits one player action.
func (h *GameHandler) Action(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionKey(r)

	var req ActionRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		slog.Info("Malformed action body", "session_id", sessionID, "error", err)
		Error(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	res, err := h.svc.SubmitAction(r.Context(), sessionID, req.Action)
	if err != nil {
		writeErr(w, r, err, "session_id", sessionID)
		return
	}
	JSON(w, http.StatusOK, ActionResponse{
		Message:  res.Message,
		Metadata: res.Stats,
		Status:   res.Status,
	})
}

// History returns the session and its visible messages.
func (h *GameHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionKey(r)
	hist, err := h.svc.GetHistory(r.Context(), sessionID)
	if err != nil {
		writeErr(w, r, err, "session_id", sessionID)
		return
	}
	JSON(w, http.StatusOK, HistoryResponse{
		Session:  hist.Session,
		Messages: hist.Messages,
	})
}
