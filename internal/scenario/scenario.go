// Package scenario defines the static setup of a game: the system prompt
// handed to the generator, the opening beat shown to the player, the
// structured-fragment marker and the seed stats.
package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/neonrun/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Scenario is the fixed setup every session of a game starts from.
type Scenario struct {
	Name         string                 `yaml:"name"`
	SystemPrompt string                 `yaml:"system_prompt"`
	Opening      string                 `yaml:"opening"`
	Marker       string                 `yaml:"marker"`
	InitialStats map[string]interface{} `yaml:"initial_stats"`
}

// Default returns the built-in New Kyoto scenario.
func Default() Scenario {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic("scenario: embedded default is invalid: " + err.Error())
	}
	return s
}

// Load reads a scenario from a YAML file. An empty path yields Default.
func Load(path string) (Scenario, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	s.SystemPrompt = strings.TrimSpace(s.SystemPrompt)
	s.Opening = strings.TrimSpace(s.Opening)
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Validate checks that all required fields are set.
func (s Scenario) Validate() error {
	if s.SystemPrompt == "" {
		return errors.New("system_prompt cannot be empty")
	}
	if s.Opening == "" {
		return errors.New("opening cannot be empty")
	}
	if strings.TrimSpace(s.Marker) == "" {
		return errors.New("marker cannot be empty")
	}
	if _, err := s.Seed(); err != nil {
		return err
	}
	return nil
}

// Seed converts InitialStats into typed stats. A scenario without
// initial_stats gets domain.InitialStats.
func (s Scenario) Seed() (domain.Stats, error) {
	if len(s.InitialStats) == 0 {
		return domain.InitialStats(), nil
	}
	out := make(domain.Stats, len(s.InitialStats))
	for k, v := range s.InitialStats {
		switch t := v.(type) {
		case int:
			out[k] = domain.Number(float64(t))
		case int64:
			out[k] = domain.Number(float64(t))
		case float64:
			out[k] = domain.Number(t)
		case string:
			out[k] = domain.String(t)
		case bool:
			out[k] = domain.Bool(t)
		default:
			return nil, fmt.Errorf("initial_stats.%s: unsupported value %v", k, v)
		}
	}
	return out, nil
}
