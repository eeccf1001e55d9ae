package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted replays canned replies in order. It is used for offline play and
// tests. Once the script runs out it keeps returning the last reply; with no
// replies at all it echoes the player's last action.
type Scripted struct {
	mu      sync.Mutex
	replies []string
	next    int
	calls   int
	last    []Message
	err     error
}

// NewScripted returns a generator that replays replies.
func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

// Name returns the provider identifier.
func (s *Scripted) Name() string { return ProviderScripted }

// FailWith makes every subsequent call return err. Pass nil to clear.
func (s *Scripted) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Generate returns the next scripted reply.
func (s *Scripted) Generate(ctx context.Context, messages []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.last = append([]Message(nil), messages...)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}

	if len(s.replies) == 0 {
		action := ""
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == RoleUser {
				action = messages[i].Content
				break
			}
		}
		return fmt.Sprintf("The city hums around you as you %s.", strings.TrimSpace(action)), nil
	}

	reply := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	return reply, nil
}

// Calls reports how many times Generate was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastContext returns a copy of the most recent context passed to Generate.
func (s *Scripted) LastContext() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.last...)
}
