// Package prompt turns a session's stored log into the context sent to the
// generator.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/generator"
	"github.com/ashureev/neonrun/internal/store"
)

// ErrMissingSystemPrompt is returned when a session's log does not start
// with a system message.
var ErrMissingSystemPrompt = errors.New("session log does not start with a system prompt")

// Assembler builds generation context from the message store.
type Assembler struct {
	repo store.Repository
}

// NewAssembler creates an Assembler reading from repo.
func NewAssembler(repo store.Repository) *Assembler {
	return &Assembler{repo: repo}
}

// BuildContext returns every message of the session, system prompt first,
// in creation order. The history is sent untruncated.
func (a *Assembler) BuildContext(ctx context.Context, sessionID string) ([]generator.Message, error) {
	msgs, err := a.repo.ListMessages(ctx, sessionID, true)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(msgs) == 0 || msgs[0].Role != domain.RoleSystem {
		return nil, ErrMissingSystemPrompt
	}

	out := make([]generator.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, generator.Message{
			Role:    generator.Role(m.Role),
			Content: m.Content,
		})
	}
	return out, nil
}
