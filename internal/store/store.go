// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/neonrun/internal/domain"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Repository persists sessions and their ordered message logs.
// Every operation is atomic with respect to a single session.
type Repository interface {
	// CreateSession stores a new active session seeded with a copy of seed.
	CreateSession(ctx context.Context, seed domain.Stats) (*domain.Session, error)

	// GetSession retrieves a session by its public id.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateStats shallow-merges partial into the stored stats. A non-empty
	// status replaces the stored status in the same write.
	UpdateStats(ctx context.Context, sessionID string, partial domain.Stats, status domain.Status) (*domain.Session, error)

	// AppendMessage adds a message to the end of the session's log.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error)

	// CommitTurn appends an assistant message and merges partial and status
	// into the session in one write. Neither change is visible if it fails.
	CommitTurn(ctx context.Context, sessionID, content string, partial domain.Stats, status domain.Status) (*domain.Message, error)

	// ListMessages returns the session's messages in creation order.
	ListMessages(ctx context.Context, sessionID string, includeSystem bool) ([]domain.Message, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
