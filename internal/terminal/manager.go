// Package terminal provides the WebSocket transport for game sessions.
package terminal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the WebSocket connections attached to each game
// session. Several tabs may watch the same run.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Count returns the number of connections attached to a session.
func (m *SessionManager) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// Register attaches a connection to a session.
func (m *SessionManager) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		m.active[sessionID] = conns
	}
	conns[conn] = struct{}{}
	slog.Info("Game connection registered", "session_id", sessionID, "connections", len(conns))
}

// Unregister detaches a connection from a session.
func (m *SessionManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(m.active, sessionID)
	}
	slog.Info("Game connection unregistered", "session_id", sessionID)
}

// Broadcast writes a text frame to every connection on the session.
// Failed writes are logged and skipped.
func (m *SessionManager) Broadcast(ctx context.Context, sessionID string, data []byte) {
	for _, conn := range m.snapshot(sessionID) {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Broadcast write failed", "session_id", sessionID, "error", err)
		}
	}
}

// CloseSession closes every connection on the session with a normal closure.
func (m *SessionManager) CloseSession(sessionID, reason string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	if len(conns) > 0 {
		slog.Info("Game connections closed", "session_id", sessionID, "reason", reason, "connections", len(conns))
	}
}

func (m *SessionManager) snapshot(sessionID string) []*websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(m.active[sessionID]))
	for conn := range m.active[sessionID] {
		out = append(out, conn)
	}
	return out
}
