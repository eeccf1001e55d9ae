package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type timeoutGenerator struct {
	inner   Generator
	timeout time.Duration
}

// WithTimeout bounds every Generate call by d and maps blank output to
// ErrEmptyOutput. A non-positive d disables the deadline.
func WithTimeout(g Generator, d time.Duration) Generator {
	return &timeoutGenerator{inner: g, timeout: d}
}

func (t *timeoutGenerator) Name() string { return t.inner.Name() }

func (t *timeoutGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := t.inner.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.inner.Name(), err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%s: %w", t.inner.Name(), ErrEmptyOutput)
	}
	return out, nil
}
