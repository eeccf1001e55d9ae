package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/neonrun/internal/api"
	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/game"
	"github.com/ashureev/neonrun/internal/middleware"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// maxFrameBytes caps inbound frames.
const maxFrameBytes = 64 << 10

// GameService is the orchestrator surface the transport needs.
type GameService interface {
	SubmitAction(ctx context.Context, sessionID, action string) (*game.ActionResult, error)
	GetHistory(ctx context.Context, sessionID string) (*game.History, error)
}

// WebSocketHandler plays a game session over a WebSocket.
type WebSocketHandler struct {
	svc            GameService
	sm             *SessionManager
	limiter        *middleware.RateLimiter
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler. A nil limiter
// disables rate limiting.
func NewWebSocketHandler(svc GameService, sm *SessionManager, limiter *middleware.RateLimiter, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		svc:            svc,
		sm:             sm,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/game/{sessionId}", h.ServeHTTP)
}

// inbound is a client frame.
type inbound struct {
	Type   string `json:"type,omitempty"`
	Action string `json:"action"`
}

// turnFrame is sent after every completed turn.
type turnFrame struct {
	Type     string          `json:"type"`
	Message  *domain.Message `json:"message"`
	Metadata domain.Stats    `json:"metadata"`
	Status   domain.Status   `json:"status"`
}

// errorFrame reports a failed action with the HTTP-equivalent status code.
type errorFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "Origin not allowed")
		return
	}

	hist, err := h.svc.GetHistory(r.Context(), sessionID)
	if err != nil {
		status, msg := api.StatusFor(err)
		api.Error(w, status, msg)
		return
	}
	if hist.Session.IsTerminal() {
		status, msg := api.StatusFor(game.ErrSessionTerminated)
		api.Error(w, status, msg)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.sm.Register(sessionID, ws)
	defer h.sm.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, sessionID)
	slog.Info("Game connection ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", strings.Join(h.allowedOrigins, ","))
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		if typ != websocket.MessageText {
			h.writeError(ctx, ws, http.StatusBadRequest, "Text frames only")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeError(ctx, ws, http.StatusBadRequest, "Invalid input")
			continue
		}
		if msg.Type == "ping" {
			h.writeJSON(ctx, ws, map[string]string{"type": "pong"})
			continue
		}

		if h.limiter != nil && !h.limiter.Allow(sessionID) {
			h.writeError(ctx, ws, http.StatusTooManyRequests, "Too many requests. Slow down, runner.")
			continue
		}

		res, err := h.svc.SubmitAction(ctx, sessionID, msg.Action)
		if err != nil {
			status, text := api.StatusFor(err)
			slog.Info("WebSocket action failed", "session_id", sessionID, "status", status, "error", err)
			h.writeError(ctx, ws, status, text)
			if errors.Is(err, game.ErrSessionTerminated) || errors.Is(err, game.ErrSessionNotFound) {
				return
			}
			continue
		}

		frame, err := json.Marshal(turnFrame{
			Type:     "turn",
			Message:  res.Message,
			Metadata: res.Stats,
			Status:   res.Status,
		})
		if err != nil {
			slog.Error("Failed to encode turn", "session_id", sessionID, "error", err)
			return
		}
		h.sm.Broadcast(ctx, sessionID, frame)

		if res.Status.IsTerminal() {
			h.sm.CloseSession(sessionID, string(res.Status))
			return
		}
	}
}

func (h *WebSocketHandler) writeError(ctx context.Context, ws *websocket.Conn, code int, message string) {
	h.writeJSON(ctx, ws, errorFrame{Type: "error", Code: code, Message: message})
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
