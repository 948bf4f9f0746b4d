package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	NodeID               int64
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	SessionCookieName string
	SessionTTL        time.Duration
	SessionSecure     bool
	HandshakeTTL      time.Duration

	LineAuthBaseURL string
	LineAPIBaseURL  string
	LineScopes      []string
	LineHTTPTimeout time.Duration
	ResponseMode    string
	MaxWebhookBytes int64

	CredentialEventsChannel string
	AdminAPIToken           string

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	TaskWorkers     int
	TaskBuffer      int
	TaskMaxAttempts int
	TaskRetryDelay  time.Duration
}

// Load reads configuration from environment variables with sane defaults.
// LINE channel credentials are not part of Config: the credential store
// reads them from the process environment on every resolve.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		NodeID:               int64(getInt("NODE_ID", 1)),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		ServiceName:          getEnv("SERVICE_NAME", "fhirlinebot"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Org-ID"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),

		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "line_session"),
		SessionTTL:        getDuration("SESSION_TTL", 24*time.Hour),
		SessionSecure:     getBool("SESSION_COOKIE_SECURE", false),
		HandshakeTTL:      getDuration("LINE_HANDSHAKE_TTL", 10*time.Minute),

		LineAuthBaseURL: getEnv("LINE_AUTH_BASE_URL", "https://access.line.me"),
		LineAPIBaseURL:  getEnv("LINE_API_BASE_URL", "https://api.line.me"),
		LineScopes:      getList("LINE_LOGIN_SCOPES", []string{"profile", "openid"}),
		LineHTTPTimeout: getDuration("LINE_HTTP_TIMEOUT", 10*time.Second),
		ResponseMode:    getEnv("LINE_RESPONSE_MODE", "reply"),
		MaxWebhookBytes: int64(getInt("LINE_WEBHOOK_MAX_BYTES", 1<<20)),

		CredentialEventsChannel: getEnv("CREDENTIAL_EVENTS_CHANNEL", "line:credentials:invalidate"),
		AdminAPIToken:           strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),

		KafkaBrokers:    getList("KAFKA_BROKERS", nil),
		KafkaTopic:      getEnv("KAFKA_TASK_TOPIC", "line-tasks"),
		KafkaGroupID:    getEnv("KAFKA_TASK_GROUP", "line-task-worker"),
		TaskWorkers:     getInt("TASK_WORKERS", 4),
		TaskBuffer:      getInt("TASK_BUFFER", 256),
		TaskMaxAttempts: getInt("TASK_MAX_ATTEMPTS", 3),
		TaskRetryDelay:  getDuration("TASK_RETRY_DELAY", 5*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.NodeID < 0 || cfg.NodeID > 1023 {
		return Config{}, fmt.Errorf("NODE_ID must be between 0 and 1023")
	}
	if cfg.TaskMaxAttempts < 3 {
		cfg.TaskMaxAttempts = 3
	}
	if cfg.TaskWorkers < 1 {
		cfg.TaskWorkers = 1
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
