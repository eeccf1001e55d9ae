// Package generator is the boundary to the hosted text-generation model.
// Every provider is treated as a black box that turns an ordered role/content
// message list into text, and may fail or time out.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyOutput is returned when the provider produced no usable text.
	ErrEmptyOutput = errors.New("generator returned empty output")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown generator provider")
)

// Role of a message in the generation context.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the context sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Generator produces the next narrative beat for a conversation.
type Generator interface {
	// Generate returns the raw model text for the given context.
	Generate(ctx context.Context, messages []Message) (string, error)

	// Name identifies the provider for logs.
	Name() string
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderScripted  = "scripted"
)

// Config holds provider configuration.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// Replies feeds the scripted provider.
	Replies []string
}

// DefaultConfig returns defaults matching the hosted setup.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderScripted,
		MaxTokens: 500,
		Timeout:   60 * time.Second,
	}
}

// Validate checks the configuration for the selected provider.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("%s: api key is required", c.Provider)
		}
	case ProviderScripted:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	if c.MaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	return nil
}

// New builds the configured provider, wrapped with the configured timeout.
func New(cfg Config) (Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		g, err = NewOpenAI(cfg)
	case ProviderAnthropic:
		g, err = NewAnthropic(cfg)
	case ProviderGemini:
		g, err = NewGemini(context.Background(), cfg)
	case ProviderScripted:
		g = NewScripted(cfg.Replies...)
	}
	if err != nil {
		return nil, err
	}

	return WithTimeout(g, cfg.Timeout), nil
}

// splitSystem separates system instructions from the conversational turns,
// for providers that take the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}
