// Package domain contains core domain types for the Neon Run game server.
package domain

import (
	"time"
)

// Status is the lifecycle state of a game session.
type Status string

const (
	// StatusActive is the initial state; actions are accepted.
	StatusActive Status = "active"
	// StatusGameOver means the runner was caught or the car was wrecked.
	StatusGameOver Status = "game_over"
	// StatusEscaped means the runner made it out.
	StatusEscaped Status = "escaped"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusGameOver, StatusEscaped:
		return true
	}
	return false
}

// IsTerminal reports whether no further actions may be submitted.
func (s Status) IsTerminal() bool {
	return s == StatusGameOver || s == StatusEscaped
}

// Session represents one playthrough and its derived state.
type Session struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Status    Status    `json:"status"`
	Stats     Stats     `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Stats = s.Stats.Clone()
	return &c
}

// IsTerminal reports whether the session has reached an absorbing state.
func (s *Session) IsTerminal() bool {
	return s.Status.IsTerminal()
}
