package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
	now   func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets history reads proceed while a turn is being written;
	// immediate transactions take the write lock up front so busy_timeout applies.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS game_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES game_sessions(session_id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession stores a new active session.
func (s *SQLiteStore) CreateSession(ctx context.Context, seed domain.Stats) (*domain.Session, error) {
	session := &domain.Session{
		SessionID: uuid.NewString(),
		Status:    domain.StatusActive,
		Stats:     seed.Clone(),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}

	metadata, err := json.Marshal(session.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	err = shared.RetryOnConflict(ctx, s.retry, "create_session", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO game_sessions (session_id, status, metadata, created_at) VALUES (?, ?, ?, ?)`,
			session.SessionID, string(session.Status), string(metadata), session.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		session.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("session last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var status, metadata string
	var createdAt int64

	if err := row.Scan(&session.ID, &session.SessionID, &status, &metadata, &createdAt); err != nil {
		return nil, err
	}

	session.Status = domain.Status(status)
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.Stats = domain.Stats{}
	if err := json.Unmarshal([]byte(metadata), &session.Stats); err != nil {
		return nil, fmt.Errorf("decode stats for %s: %w", session.SessionID, err)
	}
	return &session, nil
}

// GetSession retrieves a session by its public id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.getSession(ctx, s.db, sessionID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getSession(ctx context.Context, q queryRower, sessionID string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, session_id, status, metadata, created_at
		FROM game_sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// UpdateStats merges partial into the stored stats inside one transaction.
func (s *SQLiteStore) UpdateStats(ctx context.Context, sessionID string, partial domain.Stats, status domain.Status) (*domain.Session, error) {
	var updated *domain.Session
	err := shared.RetryOnConflict(ctx, s.retry, "update_stats", func() error {
		var err error
		updated, err = s.updateStatsOnce(ctx, sessionID, partial, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) updateStatsOnce(ctx context.Context, sessionID string, partial domain.Stats, status domain.Status) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update stats: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to rollback update stats", "session_id", sessionID, "error", rbErr)
		}
	}()

	session, err := s.getSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	session.Stats = session.Stats.Merge(partial)
	if status != "" {
		session.Status = status
	}

	metadata, err := json.Marshal(session.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE game_sessions SET metadata = ?, status = ? WHERE session_id = ?`,
		string(metadata), string(session.Status), sessionID,
	); err != nil {
		return nil, fmt.Errorf("update session stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update stats: %w", err)
	}
	return session, nil
}

// AppendMessage adds a message to the session's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Message, error) {
	msg := &domain.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}

	err := shared.RetryOnConflict(ctx, s.retry, "append_message", func() error {
		msg.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, created_at)
			SELECT ?, ?, ?, ?
			WHERE EXISTS (SELECT 1 FROM game_sessions WHERE session_id = ?)`,
			sessionID, string(role), content, msg.CreatedAt.UnixMilli(), sessionID,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if msg.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("message last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CommitTurn inserts the assistant message and updates the session's stats
// and status in a single transaction.
func (s *SQLiteStore) CommitTurn(ctx context.Context, sessionID, content string, partial domain.Stats, status domain.Status) (*domain.Message, error) {
	var msg *domain.Message
	err := shared.RetryOnConflict(ctx, s.retry, "commit_turn", func() error {
		var err error
		msg, err = s.commitTurnOnce(ctx, sessionID, content, partial, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) commitTurnOnce(ctx context.Context, sessionID, content string, partial domain.Stats, status domain.Status) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit turn: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to rollback commit turn", "session_id", sessionID, "error", rbErr)
		}
	}()

	session, err := s.getSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	session.Stats = session.Stats.Merge(partial)
	if status != "" {
		session.Status = status
	}
	metadata, err := json.Marshal(session.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE game_sessions SET metadata = ?, status = ? WHERE session_id = ?`,
		string(metadata), string(session.Status), sessionID,
	); err != nil {
		return nil, fmt.Errorf("update session stats: %w", err)
	}

	msg := &domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(msg.Role), content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("message last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	return msg, nil
}

// ListMessages returns the session's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, includeSystem bool) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if !includeSystem {
		query += ` AND role != ?`
		args = append(args, string(domain.RoleSystem))
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

var _ Repository = (*SQLiteStore)(nil)
