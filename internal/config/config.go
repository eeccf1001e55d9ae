// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	DBPath             string
	StoreDriver        string
	ScenarioPath       string
	CORSAllowedOrigins []string
	MaxActionLength    int
	RateLimit          RateLimitConfig
	Generator          GeneratorConfig
	Transcript         TranscriptConfig
}

// GeneratorConfig selects and tunes the text-generation provider.
type GeneratorConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// RateLimitConfig bounds action submissions per session.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled      bool
	Dir          string
	QueueSize    int
	MaxOpenFiles int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("GENERATOR_PROVIDER", "openai"))

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/neonrun.db"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		ScenarioPath:       getEnv("SCENARIO_PATH", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		MaxActionLength:    getEnvInt("MAX_ACTION_LENGTH", 1000),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Generator: GeneratorConfig{
			Provider:    provider,
			Model:       getEnv("GENERATOR_MODEL", ""),
			APIKey:      apiKey(provider),
			BaseURL:     getEnv("GENERATOR_BASE_URL", ""),
			MaxTokens:   getEnvInt("GENERATOR_MAX_TOKENS", 500),
			Temperature: getEnvFloat("GENERATOR_TEMPERATURE", 0),
			Timeout:     getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:      getEnvBool("TRANSCRIPT_ENABLED", false),
			Dir:          getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			QueueSize:    getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000),
			MaxOpenFiles: getEnvInt("TRANSCRIPT_MAX_OPEN_FILES", 64),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StoreMemory, c.StoreDriver)
	}
	if c.Generator.Provider == "" {
		return fmt.Errorf("GENERATOR_PROVIDER cannot be empty")
	}
	if c.Generator.MaxTokens <= 0 {
		return fmt.Errorf("GENERATOR_MAX_TOKENS must be > 0")
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be > 0")
	}
	if c.MaxActionLength <= 0 {
		return fmt.Errorf("MAX_ACTION_LENGTH must be > 0")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
		}
		if c.Transcript.MaxOpenFiles <= 0 {
			return fmt.Errorf("TRANSCRIPT_MAX_OPEN_FILES must be > 0")
		}
	}
	return nil
}

// apiKey prefers GENERATOR_API_KEY and falls back to the provider's
// conventional variable.
func apiKey(provider string) string {
	if key := getEnv("GENERATOR_API_KEY", ""); key != "" {
		return key
	}
	switch provider {
	case "openai":
		return getEnv("OPENAI_API_KEY", "")
	case "anthropic":
		return getEnv("ANTHROPIC_API_KEY", "")
	case "gemini":
		return getEnv("GEMINI_API_KEY", "")
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
