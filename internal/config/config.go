package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SOS transport identifiers.
const (
	SOSTransportWebsocket = "websocket"
	SOSTransportRedis     = "redis"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	OperatorJWTSecret  string
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Booking backend (the system of record)
	BackendBaseURL  string
	BackendAPIToken string
	BackendTimeout  time.Duration

	// Lifecycle event outbox
	DatabaseURL        string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	EventsChannel      string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SOS dispatch
	SOSTransport       string
	SOSRealtimeURL     string
	SOSResponseWindow  time.Duration
	SOSTickInterval    time.Duration
	SOSInboundPrefix   string
	SOSResponseChannel string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		OperatorJWTSecret:  getEnv("OPERATOR_JWT_SECRET", ""),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		BackendBaseURL:  strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8081"), "/"),
		BackendAPIToken: getEnv("BACKEND_API_TOKEN", ""),
		BackendTimeout:  getEnvAsDuration("BACKEND_TIMEOUT", 15*time.Second),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		EventsChannel:      getEnv("EVENTS_CHANNEL", "booking:lifecycle"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SOSTransport:       strings.ToLower(strings.TrimSpace(getEnv("SOS_TRANSPORT", SOSTransportWebsocket))),
		SOSRealtimeURL:     getEnv("SOS_REALTIME_URL", "ws://localhost:8081/ws/sos"),
		SOSResponseWindow:  getEnvAsDuration("SOS_RESPONSE_WINDOW", 60*time.Second),
		SOSTickInterval:    getEnvAsDuration("SOS_TICK_INTERVAL", time.Second),
		SOSInboundPrefix:   getEnv("SOS_INBOUND_PREFIX", "sos:clinic:"),
		SOSResponseChannel: getEnv("SOS_RESPONSE_CHANNEL", "sos:responses"),
	}
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
