// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/agentwatch/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Risk engine
	AgentIDs     []string // Static agent registry, fixed for the process lifetime
	ScamKeywords []string // Replaces the built-in keyword set when non-empty

	// Spam classifier
	SpamAPIToken      string // Bearer token for the hosted model (optional at startup)
	SpamModelURL      string
	SpamLabel         string // Label whose score is the spam probability
	ClassifierTimeout time.Duration

	// Security
	RateLimitRPM int
	CORSOrigins  []string // Empty allows any origin
	APIKeys      []string // "key" (operator) or "agent_id:key"; auth disabled when empty

	// Alert webhooks
	WebhookURLs   []string // Each receives incident and status events
	WebhookSecret string   // HMAC-SHA256 signing key; unsigned when empty

	// Observability
	OTLPEndpoint string // Tracing disabled when empty
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultAgentIDs          = "agent_001,agent_002"
	DefaultSpamModelURL      = "https://api-inference.huggingface.co/models/mrm8488/bert-tiny-finetuned-sms-spam-detection"
	DefaultSpamLabel         = "spam"
	DefaultClassifierTimeout = 30 * time.Second
	DefaultRateLimit         = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	token := os.Getenv("SPAM_API_TOKEN")
	if token == "" {
		token = os.Getenv("HF_API_TOKEN")
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		AgentIDs:          splitList(getEnv("AGENT_IDS", DefaultAgentIDs)),
		ScamKeywords:      splitList(os.Getenv("SCAM_KEYWORDS")),
		SpamAPIToken:      token,
		SpamModelURL:      getEnv("SPAM_MODEL_URL", DefaultSpamModelURL),
		SpamLabel:         getEnv("SPAM_LABEL", DefaultSpamLabel),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", DefaultClassifierTimeout),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		CORSOrigins:       splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		APIKeys:           splitList(os.Getenv("API_KEYS")),
		WebhookURLs:       splitList(os.Getenv("WEBHOOK_URLS")),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
// A missing SpamAPIToken is not an error here; the classifier reports it per call.
func (c *Config) Validate() error {
	if len(c.AgentIDs) == 0 {
		return fmt.Errorf("AGENT_IDS must name at least one agent")
	}

	seen := make(map[string]bool, len(c.AgentIDs))
	for _, id := range c.AgentIDs {
		if !validation.IsValidAgentID(id) {
			return fmt.Errorf("AGENT_IDS contains invalid agent id %q", id)
		}
		if seen[id] {
			return fmt.Errorf("AGENT_IDS contains duplicate agent id %q", id)
		}
		seen[id] = true
	}

	if c.SpamModelURL == "" {
		return fmt.Errorf("SPAM_MODEL_URL is required")
	}
	if !strings.HasPrefix(c.SpamModelURL, "http://") && !strings.HasPrefix(c.SpamModelURL, "https://") {
		return fmt.Errorf("SPAM_MODEL_URL must be an http(s) URL")
	}

	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be positive")
	}

	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}

	for _, u := range c.WebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("WEBHOOK_URLS contains non-http(s) URL %q", u)
		}
	}

	return nil
}

// ClassifierConfigured reports whether a classifier credential is present.
func (c *Config) ClassifierConfigured() bool {
	return c.SpamAPIToken != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
