// Package transcript records each session's turns as NDJSON files for later
// review. Writes happen on a background goroutine and never block gameplay.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/neonrun/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxOpenFiles caps how many session files stay open at once.
const DefaultMaxOpenFiles = 64

// Event types.
const (
	EventSessionStarted = "session_started"
	EventPlayerAction   = "player_action"
	EventNarrative      = "narrative"
	EventGenerationFail = "generation_failed"
	EventDegraded       = "reconciliation_degraded"
)

// Event is one transcript line.
type Event struct {
	Time      time.Time     `json:"time"`
	SessionID string        `json:"sessionId"`
	EventType string        `json:"eventType"`
	Content   string        `json:"content,omitempty"`
	Stats     domain.Stats  `json:"metadata,omitempty"`
	Status    domain.Status `json:"status,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Recorder accepts transcript events.
type Recorder interface {
	Log(event Event)
	Close() error
}

// Config controls transcript output.
type Config struct {
	Enabled      bool
	Dir          string
	QueueSize    int
	MaxOpenFiles int
}

// Nop discards every event.
type Nop struct{}

// Log implements Recorder.
func (Nop) Log(Event) {}

// Close implements Recorder.
func (Nop) Close() error { return nil }

// Logger writes events to one NDJSON file per session.
type Logger struct {
	dir    string
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	// files holds recently used handles. Evicted files are closed and
	// reopened in append mode on the session's next event.
	files     *lru.Cache[string, *os.File]
	closeErrs []error
}

// New returns a Recorder for cfg. A disabled config yields Nop.
func New(cfg Config, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewLogger(cfg, logger)
}

// NewLogger creates the output directory and starts the writer goroutine.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &Logger{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	files, err := lru.NewWithEvict(cfg.MaxOpenFiles, l.closeFile)
	if err != nil {
		return nil, fmt.Errorf("create transcript file cache: %w", err)
	}
	l.files = files
	go l.run()
	return l, nil
}

// Log enqueues event. When the queue is full the event is dropped.
func (l *Logger) Log(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Transcript queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType)
	}
}

// Close drains pending events and closes all files.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	l.closeErrs = nil
	l.files.Purge()
	return errors.Join(l.closeErrs...)
}

func (l *Logger) closeFile(name string, f *os.File) {
	if err := f.Close(); err != nil {
		l.closeErrs = append(l.closeErrs, fmt.Errorf("close transcript %s: %w", name, err))
		l.logger.Warn("Failed to close transcript file", "session", name, "error", err)
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write transcript event",
				"session_id", event.SessionID,
				"error", err)
		}
	}
}

func (l *Logger) write(event Event) error {
	name := safeName(event.SessionID)
	if name == "" {
		return errors.New("event has no session id")
	}

	f, ok := l.files.Get(name)
	if !ok {
		path := filepath.Join(l.dir, name+".ndjson")
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		l.files.Add(name, f)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// safeName keeps only characters that cannot escape the transcript dir.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, id)
}
