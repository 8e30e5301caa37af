// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string
	SSEHeartbeat       time.Duration

	// Persistence
	StoreDriver string
	DatabaseURL string

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Sessions
	SessionInactivityWindow  time.Duration
	CustomerVisibilityWindow time.Duration

	// Sentiment
	SentimentMaxMagnitude        float64
	SentimentPositiveThreshold   float64
	SentimentNegativeThreshold   float64
	SentimentEscalationThreshold float64
	SentimentLexiconPath         string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	SuggestionModel string

	// Rate limiting
	RateLimitRequests       int
	RateLimitWindow         time.Duration
	WidgetRateLimitRequests int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// LoadDotEnv loads variables from the given files into the environment
// without overriding what is already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),
		SSEHeartbeat:       getDurationEnv("SSE_HEARTBEAT", 30*time.Second),

		// Persistence
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Sessions
		SessionInactivityWindow:  getDurationEnv("SESSION_INACTIVITY_WINDOW", 24*time.Hour),
		CustomerVisibilityWindow: getDurationEnv("CUSTOMER_VISIBILITY_WINDOW", 24*time.Hour),

		// Sentiment
		SentimentMaxMagnitude:        getFloatEnv("SENTIMENT_MAX_MAGNITUDE", 5),
		SentimentPositiveThreshold:   getFloatEnv("SENTIMENT_POSITIVE_THRESHOLD", 0.3),
		SentimentNegativeThreshold:   getFloatEnv("SENTIMENT_NEGATIVE_THRESHOLD", -0.3),
		SentimentEscalationThreshold: getFloatEnv("SENTIMENT_ESCALATION_THRESHOLD", -0.7),
		SentimentLexiconPath:         getEnv("SENTIMENT_LEXICON_PATH", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		SuggestionModel: getEnv("SUGGESTION_MODEL", ""),

		// Rate limiting
		RateLimitRequests:       getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:         getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WidgetRateLimitRequests: getIntEnv("WIDGET_RATE_LIMIT_REQUESTS", 30),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.SessionInactivityWindow <= 0 {
		errs = append(errs, errors.New("SESSION_INACTIVITY_WINDOW must be positive"))
	}
	if c.CustomerVisibilityWindow <= 0 {
		errs = append(errs, errors.New("CUSTOMER_VISIBILITY_WINDOW must be positive"))
	}
	if c.SentimentMaxMagnitude <= 0 {
		errs = append(errs, errors.New("SENTIMENT_MAX_MAGNITUDE must be positive"))
	}
	if c.SentimentNegativeThreshold > c.SentimentPositiveThreshold {
		errs = append(errs, errors.New("SENTIMENT_NEGATIVE_THRESHOLD must not exceed SENTIMENT_POSITIVE_THRESHOLD"))
	}
	if c.SentimentEscalationThreshold < -1 || c.SentimentEscalationThreshold > 1 {
		errs = append(errs, errors.New("SENTIMENT_ESCALATION_THRESHOLD must be within [-1, 1]"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
