package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API, worker and QC sweeper.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	CORSAllowedOrigins []string

	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderFromNumber string
	DispatchTimeoutMS  int
	DispatchMaxRetries int
	RingTimeoutFrom    int
	RingTimeoutTo      int
	MaxCallDurationSec int

	ReconcileWindowMinutes int

	PrioritySourceURL       string
	PriorityCacheTTLSeconds int

	QCSampleFraction       float64
	QCApprovalThresholdPct float64
	QCSweepIntervalSeconds int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	RateLimitRPS   float64
	RateLimitBurst int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),

		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:     getEnv("PROVIDER_API_KEY", ""),
		ProviderFromNumber: getEnv("PROVIDER_FROM_NUMBER", ""),
		DispatchTimeoutMS:  getEnvInt("DISPATCH_TIMEOUT_MS", 30000),
		DispatchMaxRetries: getEnvInt("DISPATCH_MAX_RETRIES", 1),
		RingTimeoutFrom:    getEnvInt("RING_TIMEOUT_FROM_SECONDS", 25),
		RingTimeoutTo:      getEnvInt("RING_TIMEOUT_TO_SECONDS", 35),
		MaxCallDurationSec: getEnvInt("MAX_CALL_DURATION_SECONDS", 3600),

		ReconcileWindowMinutes: getEnvInt("RECONCILE_WINDOW_MINUTES", 120),

		PrioritySourceURL:       getEnv("PRIORITY_SOURCE_URL", ""),
		PriorityCacheTTLSeconds: getEnvInt("PRIORITY_CACHE_TTL_SECONDS", 300),

		QCSampleFraction:       getEnvFloat("QC_SAMPLE_FRACTION", 0.4),
		QCApprovalThresholdPct: getEnvFloat("QC_APPROVAL_THRESHOLD_PCT", 50),
		QCSweepIntervalSeconds: getEnvInt("QC_SWEEP_INTERVAL_SECONDS", 86400),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "cati_deliveries"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "cati_deliveries_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "cati_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
