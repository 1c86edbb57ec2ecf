// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides Redis connection settings for caching, idempotency
// and the task queue.
type RedisConfig interface {
	GetRedisURL() string
}

// JWTConfig provides JWT validation settings for admin middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// LLMConfig provides settings for the OpenAI-compatible model endpoint.
type LLMConfig interface {
	GetLLMAPIKey() string
	GetLLMBaseURL() string
	GetLLMModel() string
	IsLLMEnabled() bool
}

// GateConfig provides settings for the confirmation gate.
type GateConfig interface {
	GetGateMode() string
	GetGateYesNoDeterministic() bool
	GetGateThreshold() float64
	GetGateTimeout() time.Duration
	GetGateSamples() int
	GetRetroactiveWindow() time.Duration
}

// EngineConfig provides settings for the orchestrator and selector.
type EngineConfig interface {
	GetWaitingTTL() time.Duration
	GetAutomationCooldown() time.Duration
	GetReplyTimeout() time.Duration
	GetKBCacheTTL() time.Duration
	GetCatalogDir() string
	GetKBPath() string
}

// BrokerConfig provides settings for the partner broker verification API.
type BrokerConfig interface {
	GetBrokerAPIURL() string
	GetBrokerAPIKey() string
	IsBrokerEnabled() bool
}

// SchedulerConfig provides settings for the asynq task queue and the
// periodic maintenance tasks.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetSweepInterval() time.Duration
	GetDigestInterval() time.Duration
}

// TelegramConfig provides settings for the Telegram delivery channel.
type TelegramConfig interface {
	GetTelegramBotToken() string
	GetTelegramAPIBase() string
	IsTelegramEnabled() bool
}

// SMTPConfig provides settings for review digest mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFrom() string
	GetReviewRecipients() []string
	IsSMTPEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible media storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketMedia() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Config struct
// =============================================================================

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string
	RedisURL    string

	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	SweepInterval    time.Duration
	DigestInterval   time.Duration

	JWTAccessSecret string

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	GateMode               string
	GateYesNoDeterministic bool
	GateThreshold          float64
	GateTimeout            time.Duration
	GateSamples            int
	RetroactiveWindow      time.Duration

	WaitingTTL         time.Duration
	AutomationCooldown time.Duration
	ReplyTimeout       time.Duration
	KBCacheTTL         time.Duration
	CatalogDir         string
	KBPath             string

	BrokerAPIURL string
	BrokerAPIKey string

	TelegramBotToken string
	TelegramAPIBase  string

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPFrom         string
	ReviewRecipients []string

	MinIOEndpoint    string
	MinIOAccessKey   string
	MinIOSecretKey   string
	MinIOUseSSL      bool
	MinioBucketMedia string
}

// Interface implementations.

func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }
func (c *Config) GetRedisURL() string    { return c.RedisURL }

func (c *Config) GetRedisTLSInsecure() bool        { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string        { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int         { return c.AsynqConcurrency }
func (c *Config) GetSweepInterval() time.Duration  { return c.SweepInterval }
func (c *Config) GetDigestInterval() time.Duration { return c.DigestInterval }

func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

func (c *Config) GetLLMAPIKey() string  { return c.LLMAPIKey }
func (c *Config) GetLLMBaseURL() string { return c.LLMBaseURL }
func (c *Config) GetLLMModel() string   { return c.LLMModel }
func (c *Config) IsLLMEnabled() bool    { return c.LLMAPIKey != "" }

func (c *Config) GetGateMode() string                 { return c.GateMode }
func (c *Config) GetGateYesNoDeterministic() bool     { return c.GateYesNoDeterministic }
func (c *Config) GetGateThreshold() float64           { return c.GateThreshold }
func (c *Config) GetGateTimeout() time.Duration       { return c.GateTimeout }
func (c *Config) GetGateSamples() int                 { return c.GateSamples }
func (c *Config) GetRetroactiveWindow() time.Duration { return c.RetroactiveWindow }

func (c *Config) GetWaitingTTL() time.Duration         { return c.WaitingTTL }
func (c *Config) GetAutomationCooldown() time.Duration { return c.AutomationCooldown }
func (c *Config) GetReplyTimeout() time.Duration       { return c.ReplyTimeout }
func (c *Config) GetKBCacheTTL() time.Duration         { return c.KBCacheTTL }
func (c *Config) GetCatalogDir() string                { return c.CatalogDir }
func (c *Config) GetKBPath() string                    { return c.KBPath }

func (c *Config) GetBrokerAPIURL() string { return c.BrokerAPIURL }
func (c *Config) GetBrokerAPIKey() string { return c.BrokerAPIKey }
func (c *Config) IsBrokerEnabled() bool   { return c.BrokerAPIURL != "" }

func (c *Config) GetTelegramBotToken() string { return c.TelegramBotToken }
func (c *Config) GetTelegramAPIBase() string  { return c.TelegramAPIBase }
func (c *Config) IsTelegramEnabled() bool     { return c.TelegramBotToken != "" }

func (c *Config) GetSMTPHost() string           { return c.SMTPHost }
func (c *Config) GetSMTPPort() int              { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string       { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string       { return c.SMTPPassword }
func (c *Config) GetSMTPFrom() string           { return c.SMTPFrom }
func (c *Config) GetReviewRecipients() []string { return c.ReviewRecipients }
func (c *Config) IsSMTPEnabled() bool           { return c.SMTPHost != "" && c.SMTPFrom != "" }

func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketMedia() string { return c.MinioBucketMedia }
func (c *Config) IsMinIOEnabled() bool       { return c.MinIOEndpoint != "" }

// Valid gate operating modes.
const (
	GateModeLLMFirst = "llm_first"
	GateModeHybrid   = "hybrid"
	GateModeDetOnly  = "det_only"
)

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "engine"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		SweepInterval:    mustDuration(getEnv("WAITING_SWEEP_INTERVAL", "1m")),
		DigestInterval:   mustDuration(getEnv("REVIEW_DIGEST_INTERVAL", "1h")),

		JWTAccessSecret: getEnv("JWT_ACCESS_SECRET", ""),

		CORSOrigins:    splitCSV(getEnv("CORS_ORIGINS", "")),
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),

		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.moonshot.ai/v1"),
		LLMModel:   getEnv("LLM_MODEL", "kimi-k2-0711-preview"),

		GateMode:               getEnv("CONFIRM_AGENT_MODE", GateModeHybrid),
		GateYesNoDeterministic: strings.EqualFold(getEnv("GATE_YESNO_DETERMINISTIC", "true"), "true"),
		GateThreshold:          mustFloat(getEnv("CONFIRM_AGENT_THRESHOLD", "0.80")),
		GateTimeout:            mustDuration(getEnv("CONFIRM_AGENT_TIMEOUT", "1s")),
		GateSamples:            mustInt(getEnv("CONFIRM_AGENT_SAMPLES", "1")),
		RetroactiveWindow:      mustDuration(getEnv("GATE_RETROACTIVE_WINDOW", "10m")),

		WaitingTTL:         mustDuration(getEnv("WAITING_TTL", "30m")),
		AutomationCooldown: mustDuration(getEnv("AUTOMATION_COOLDOWN", "5m")),
		ReplyTimeout:       mustDuration(getEnv("REPLY_TIMEOUT", "3s")),
		KBCacheTTL:         mustDuration(getEnv("KB_CACHE_TTL", "60s")),
		CatalogDir:         getEnv("CATALOG_DIR", "configs"),
		KBPath:             getEnv("KB_PATH", "configs/kb.md"),

		BrokerAPIURL: getEnv("BROKER_API_URL", ""),
		BrokerAPIKey: getEnv("BROKER_API_KEY", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),

		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:         getEnv("SMTP_FROM", ""),
		ReviewRecipients: splitCSV(getEnv("REVIEW_RECIPIENTS", "")),

		MinIOEndpoint:    getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:   getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:   getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:      strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketMedia: getEnv("MINIO_BUCKET_MEDIA", "engine-media"),
	}

	cfg.CORSAllowAll = containsWildcard(cfg.CORSOrigins)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.GateMode {
	case GateModeLLMFirst, GateModeHybrid, GateModeDetOnly:
	default:
		return nil, fmt.Errorf("CONFIRM_AGENT_MODE must be one of llm_first, hybrid, det_only (got %q)", cfg.GateMode)
	}
	if cfg.GateThreshold <= 0 || cfg.GateThreshold > 1 {
		return nil, fmt.Errorf("CONFIRM_AGENT_THRESHOLD must be in (0, 1]")
	}
	if cfg.GateSamples < 1 {
		cfg.GateSamples = 1
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when origins include *")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
