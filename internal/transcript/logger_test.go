package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/neonrun/internal/domain"
	"go.uber.org/goleak"
)

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Log(Event{SessionID: "sess-1", EventType: EventPlayerAction, Content: "floor it"})
	logger.Log(Event{
		SessionID: "sess-1",
		EventType: EventNarrative,
		Content:   "You slam the pedal.",
		Stats:     domain.Stats{"speed": domain.Number(120)},
		Status:    domain.StatusActive,
	})
	logger.Log(Event{SessionID: "sess-2", EventType: EventSessionStarted})

	path := filepath.Join(dir, "sess-1.ndjson")
	waitForLines(t, path, 2)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var got Event
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.EventType != EventNarrative || got.Content != "You slam the pedal." {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("expected timestamp to be populated")
	}
	if v, _ := got.Stats["speed"].Float(); v != 120 {
		t.Fatalf("unexpected speed: %v", got.Stats["speed"])
	}

	if _, err := os.Stat(filepath.Join(dir, "sess-2.ndjson")); err != nil {
		t.Fatalf("expected second session file: %v", err)
	}
}

func TestLoggerBoundsOpenFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir, QueueSize: 128, MaxOpenFiles: 4}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	const sessions = 40
	for i := 0; i < sessions; i++ {
		logger.Log(Event{SessionID: fmt.Sprintf("sess-%d", i), EventType: EventSessionStarted})
	}
	// sess-0 was evicted long ago; its next event must reopen and append.
	logger.Log(Event{SessionID: "sess-0", EventType: EventPlayerAction, Content: "back again"})
	waitForLines(t, filepath.Join(dir, "sess-0.ndjson"), 2)

	if n := logger.files.Len(); n > 4 {
		t.Fatalf("open transcript files = %d, want at most 4", n)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := logger.files.Len(); n != 0 {
		t.Fatalf("open transcript files after Close = %d, want 0", n)
	}

	for i := 1; i < sessions; i++ {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("sess-%d.ndjson", i)))
		if err != nil {
			t.Fatalf("read transcript %d: %v", i, err)
		}
		if got := strings.Count(string(data), "\n"); got != 1 {
			t.Fatalf("sess-%d: expected 1 line, got %d", i, got)
		}
	}
}

func TestLoggerIgnoresEventsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, err := NewLogger(Config{Enabled: true, Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(Event{SessionID: "late", EventType: EventNarrative})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestNewDisabledIsNop(t *testing.T) {
	rec, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := rec.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", rec)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("../../etc/passwd"); got != "etcpasswd" {
		t.Fatalf("unexpected safe name: %q", got)
	}
}

func waitForLines(t *testing.T, path string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && strings.Count(string(data), "\n") >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines in %s", n, path)
}
