// Package game orchestrates a session's turn cycle: it records the player's
// action, asks the generator for the next beat, reconciles the structured
// fragment and persists the outcome.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/generator"
	"github.com/ashureev/neonrun/internal/prompt"
	"github.com/ashureev/neonrun/internal/reconcile"
	"github.com/ashureev/neonrun/internal/scenario"
	"github.com/ashureev/neonrun/internal/store"
	"github.com/ashureev/neonrun/internal/transcript"
)

// DefaultMaxActionLength caps player input, in runes.
const DefaultMaxActionLength = 1000

// Options tunes the service.
type Options struct {
	MaxActionLength int
	Recorder        transcript.Recorder
}

// StartResult is returned by StartSession.
type StartResult struct {
	Session *domain.Session
	Message *domain.Message
}

// ActionResult is returned by SubmitAction.
type ActionResult struct {
	Message  *domain.Message
	Stats    domain.Stats
	Status   domain.Status
	Degraded bool
}

// History is a session with its player-visible messages.
type History struct {
	Session  *domain.Session
	Messages []domain.Message
}

// Service runs game sessions.
type Service struct {
	repo       store.Repository
	assembler  *prompt.Assembler
	gen        generator.Generator
	reconciler *reconcile.Reconciler
	scenario   scenario.Scenario
	seed       domain.Stats
	opts       Options
	locks      *sessionLocks
}

// NewService wires the orchestrator.
func NewService(
	repo store.Repository,
	assembler *prompt.Assembler,
	gen generator.Generator,
	reconciler *reconcile.Reconciler,
	sc scenario.Scenario,
	opts Options,
) (*Service, error) {
	seed, err := sc.Seed()
	if err != nil {
		return nil, fmt.Errorf("scenario seed: %w", err)
	}
	if opts.MaxActionLength <= 0 {
		opts.MaxActionLength = DefaultMaxActionLength
	}
	if opts.Recorder == nil {
		opts.Recorder = transcript.Nop{}
	}
	return &Service{
		repo:       repo,
		assembler:  assembler,
		gen:        gen,
		reconciler: reconciler,
		scenario:   sc,
		seed:       seed,
		opts:       opts,
		locks:      newSessionLocks(),
	}, nil
}

// StartSession creates a session seeded from the scenario and records the
// system prompt and opening beat.
func (s *Service) StartSession(ctx context.Context) (*StartResult, error) {
	sess, err := s.repo.CreateSession(ctx, s.seed)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if _, err := s.repo.AppendMessage(ctx, sess.SessionID, domain.RoleSystem, s.scenario.SystemPrompt); err != nil {
		return nil, fmt.Errorf("append system prompt: %w", err)
	}
	opening, err := s.repo.AppendMessage(ctx, sess.SessionID, domain.RoleAssistant, s.scenario.Opening)
	if err != nil {
		return nil, fmt.Errorf("append opening: %w", err)
	}

	slog.Info("Session started", "session_id", sess.SessionID, "scenario", s.scenario.Name)
	s.opts.Recorder.Log(transcript.Event{
		SessionID: sess.SessionID,
		EventType: transcript.EventSessionStarted,
		Content:   opening.Content,
		Stats:     sess.Stats,
		Status:    sess.Status,
	})

	return &StartResult{Session: sess, Message: opening}, nil
}

// SubmitAction runs one turn. Turns on the same session are serialized.
func (s *Service) SubmitAction(ctx context.Context, sessionID, action string) (*ActionResult, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, &ValidationError{Field: "action", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(action); n > s.opts.MaxActionLength {
		return nil, &ValidationError{
			Field:  "action",
			Reason: fmt.Sprintf("must be at most %d characters", s.opts.MaxActionLength),
		}
	}

	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session: %w", err)
	}
	defer release()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrSessionTerminated, sess.Status)
	}

	if _, err := s.repo.AppendMessage(ctx, sessionID, domain.RoleUser, action); err != nil {
		return nil, fmt.Errorf("append action: %w", err)
	}
	s.opts.Recorder.Log(transcript.Event{
		SessionID: sessionID,
		EventType: transcript.EventPlayerAction,
		Content:   action,
	})

	messages, err := s.assembler.BuildContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	raw, err := s.gen.Generate(ctx, messages)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = generator.ErrEmptyOutput
	}
	if err != nil {
		slog.Error("Generation failed", "session_id", sessionID, "provider", s.gen.Name(), "error", err)
		s.opts.Recorder.Log(transcript.Event{
			SessionID: sessionID,
			EventType: transcript.EventGenerationFail,
			Error:     err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	res := s.reconciler.Reconcile(raw, sess.Stats, sess.Status)
	if res.Degraded {
		slog.Warn("Reconciliation degraded",
			"session_id", sessionID,
			"reason", res.Reason,
			"detail", res.Detail)
		s.opts.Recorder.Log(transcript.Event{
			SessionID: sessionID,
			EventType: transcript.EventDegraded,
			Content:   raw,
			Reason:    string(res.Reason),
			Error:     res.Detail,
		})
	}

	// Narrative and state are written in one step.
	var msg *domain.Message
	if res.Changed(sess.Stats, sess.Status) {
		msg, err = s.repo.CommitTurn(ctx, sessionID, res.Narrative, res.Stats, res.Status)
		if err != nil {
			return nil, fmt.Errorf("commit turn: %w", err)
		}
		if res.Status != sess.Status {
			slog.Info("Session status changed",
				"session_id", sessionID,
				"from", sess.Status,
				"to", res.Status)
		}
	} else {
		msg, err = s.repo.AppendMessage(ctx, sessionID, domain.RoleAssistant, res.Narrative)
		if err != nil {
			return nil, fmt.Errorf("append narrative: %w", err)
		}
	}
	s.opts.Recorder.Log(transcript.Event{
		SessionID: sessionID,
		EventType: transcript.EventNarrative,
		Content:   res.Narrative,
		Stats:     res.Stats,
		Status:    res.Status,
	})

	return &ActionResult{
		Message:  msg,
		Stats:    res.Stats,
		Status:   res.Status,
		Degraded: res.Degraded,
	}, nil
}

// GetHistory returns the session and its non-system messages in order.
func (s *Service) GetHistory(ctx context.Context, sessionID string) (*History, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID, false)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &History{Session: sess, Messages: msgs}, nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) getSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}
