package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository. State is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	messages map[string][]domain.Message
	nextSess int64
	nextMsg  int64
	now      func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
		now:      time.Now,
	}
}

// CreateSession stores a new active session.
func (m *MemoryStore) CreateSession(_ context.Context, seed domain.Stats) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSess++
	session := &domain.Session{
		ID:        m.nextSess,
		SessionID: uuid.NewString(),
		Status:    domain.StatusActive,
		Stats:     seed.Clone(),
		CreatedAt: m.now().UTC(),
	}
	m.sessions[session.SessionID] = session
	return session.Clone(), nil
}

// GetSession retrieves a session by its public id.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

// UpdateStats shallow-merges partial into the stored stats.
func (m *MemoryStore) UpdateStats(_ context.Context, sessionID string, partial domain.Stats, status domain.Status) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	session.Stats = session.Stats.Merge(partial)
	if status != "" {
		session.Status = status
	}
	return session.Clone(), nil
}

// AppendMessage adds a message to the session's log.
func (m *MemoryStore) AppendMessage(_ context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}

	m.nextMsg++
	msg := domain.Message{
		ID:        m.nextMsg,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: m.now().UTC(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return &msg, nil
}

// CommitTurn appends the assistant message and applies the stats together.
func (m *MemoryStore) CommitTurn(_ context.Context, sessionID, content string, partial domain.Stats, status domain.Status) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	session.Stats = session.Stats.Merge(partial)
	if status != "" {
		session.Status = status
	}

	m.nextMsg++
	msg := domain.Message{
		ID:        m.nextMsg,
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: m.now().UTC(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return &msg, nil
}

// ListMessages returns a copy of the session's log in insertion order.
func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, includeSystem bool) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[sessionID]
	if !includeSystem {
		return domain.VisibleMessages(stored), nil
	}
	return append(make([]domain.Message, 0, len(stored)), stored...), nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
