// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the marketing-analysis backend.
type Config struct {
	Port    int    `validate:"min=1,max=65535"`
	Version string `validate:"required"`

	Database   DatabaseConfig
	Generation GenerationConfig
	Budget     BudgetConfig
	Retention  RetentionConfig
	Telemetry  TelemetryConfig
}

type DatabaseConfig struct {
	// URL selects PostgreSQL when set; the in-memory store otherwise.
	URL string
}

// GenerationConfig configures the outbound chat-completion client.
type GenerationConfig struct {
	Endpoint    string  `validate:"required,url"`
	APIKey      string
	Model       string  `validate:"required"`
	Temperature float64 `validate:"gte=0,lte=2"`

	// TimeoutSecs bounds one generation call. It must stay under the HTTP
	// server's write timeout so a stuck call is abortable before the
	// outer deadline.
	TimeoutSecs int `validate:"min=1,max=110"`
}

// BudgetConfig bounds prompt assembly.
type BudgetConfig struct {
	MaxContextTokens       int `validate:"min=100"`
	MaxKnowledgeItemTokens int `validate:"min=50"`
}

// RetentionConfig bounds persisted run documents. Zero values disable the
// respective bound; with both at zero the janitor never starts.
type RetentionConfig struct {
	MaxAgeDays   int `validate:"min=0"`
	MaxRuns      int `validate:"min=0"`
	IntervalMins int `validate:"min=0"`
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    envInt("MARKAI_PORT", 8080),
		Version: envStr("MARKAI_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL: envStr("DATABASE_URL", ""),
		},
		Generation: GenerationConfig{
			Endpoint:    envStr("GENERATION_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:      envStr("GENERATION_API_KEY", ""),
			Model:       envStr("GENERATION_MODEL", "gpt-4o-mini"),
			Temperature: envFloat("GENERATION_TEMPERATURE", 0.7),
			TimeoutSecs: envInt("GENERATION_TIMEOUT_SECS", 50),
		},
		Budget: BudgetConfig{
			MaxContextTokens:       envInt("MARKAI_MAX_CONTEXT_TOKENS", 6000),
			MaxKnowledgeItemTokens: envInt("MARKAI_MAX_KNOWLEDGE_ITEM_TOKENS", 1200),
		},
		Retention: RetentionConfig{
			MaxAgeDays:   envInt("MARKAI_RETENTION_MAX_AGE_DAYS", 0),
			MaxRuns:      envInt("MARKAI_RETENTION_MAX_RUNS", 0),
			IntervalMins: envInt("MARKAI_RETENTION_INTERVAL_MINS", 60),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "marketing-ai-core"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and returns a readable multi-line error.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config validation: %w", err)
	}
	var msgs []string
	for _, e := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got: %v)", e.Namespace(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
