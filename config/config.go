package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Providers
	AnthropicAPIKey string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicModel  string
	GeminiModel     string
	OpenAIModel     string
	ProviderOrder   []string      // failover priority, default: gemini,openai,claude
	ProviderTimeout time.Duration // per-provider call budget, default: 60s

	// Readings
	RuleVersion string        // cache-key rule version, default: "v1"
	LockTTL     time.Duration // per-subject request lock, default: 30s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	RateLimitRPM int64 // generation requests per minute per subject, default: 20
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicModel:       getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RuleVersion:          getEnv("RULE_VERSION", "v1"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	order := getEnv("PROVIDER_ORDER", "gemini,openai,claude")
	for _, name := range strings.Split(order, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			cfg.ProviderOrder = append(cfg.ProviderOrder, name)
		}
	}

	timeoutStr := getEnv("PROVIDER_TIMEOUT", "60s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
	}
	cfg.ProviderTimeout = timeout

	lockStr := getEnv("LOCK_TTL", "30s")
	lockTTL, err := time.ParseDuration(lockStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}
	cfg.LockTTL = lockTTL

	rpmStr := getEnv("RATE_LIMIT_RPM", "20")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPM: %w", err)
	}
	cfg.RateLimitRPM = rpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
