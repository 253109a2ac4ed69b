package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Dashboard access tokens
	JWTSecret string
	JWTIssuer string

	// Capability tokens for widgets and provider callbacks
	WidgetTokenSecret    string
	WidgetTokenTTL       time.Duration
	CallbackTokenTTL     time.Duration
	CapabilityIssuer     string
	PublicBaseURL        string
	VoiceRuntimeURL      string
	DashboardOrigins     []string
	SecretsEncryptionKey []byte

	// Telephony provider
	TelephonyBaseURL         string
	TelephonyAccountID       string
	TelephonyAPIKey          string
	TelephonyTimeout         time.Duration
	TelephonyMaxReadAttempts int

	// Billing processor
	BillingWebhookSecret string

	// Plans and admission
	PlanCacheTTL    time.Duration
	PlanCatalogFile string
	MaxCallDuration time.Duration
	RedisURL        string

	// Events
	NATSURL string

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
}

// RateLimitConfig holds per-route-group request limits.
type RateLimitConfig struct {
	Enabled bool

	WidgetRequestsPerMinute    int
	CallbackRequestsPerMinute  int
	WebhookRequestsPerMinute   int
	DashboardRequestsPerMinute int
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 25432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "callgate"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "simple-idm"),

		WidgetTokenSecret: getEnv("WIDGET_TOKEN_SECRET", ""),
		WidgetTokenTTL:    getEnvDuration("WIDGET_TOKEN_TTL", 30*24*time.Hour),
		CallbackTokenTTL:  getEnvDuration("CALLBACK_TOKEN_TTL", 24*time.Hour),
		CapabilityIssuer:  getEnv("CAPABILITY_ISSUER", "callgate"),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		VoiceRuntimeURL:   getEnv("VOICE_RUNTIME_URL", "http://localhost:8090"),
		DashboardOrigins:  getEnvList("DASHBOARD_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		TelephonyBaseURL:         getEnv("TELEPHONY_BASE_URL", "https://api.telephony.example.com"),
		TelephonyAccountID:       getEnv("TELEPHONY_ACCOUNT_ID", ""),
		TelephonyAPIKey:          getEnv("TELEPHONY_API_KEY", ""),
		TelephonyTimeout:         getEnvDuration("TELEPHONY_TIMEOUT", 10*time.Second),
		TelephonyMaxReadAttempts: getEnvInt("TELEPHONY_MAX_READ_ATTEMPTS", 3),

		BillingWebhookSecret: getEnv("BILLING_WEBHOOK_SECRET", ""),

		PlanCacheTTL:    getEnvDuration("PLAN_CACHE_TTL", 5*time.Minute),
		PlanCatalogFile: getEnv("PLAN_CATALOG_FILE", ""),
		MaxCallDuration: getEnvDuration("MAX_CALL_DURATION", 4*time.Hour),
		RedisURL:        getEnv("REDIS_URL", ""),

		NATSURL: getEnv("NATS_URL", ""),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			WidgetRequestsPerMinute:    getEnvInt("RATE_LIMIT_WIDGET_PER_MINUTE", 10),
			CallbackRequestsPerMinute:  getEnvInt("RATE_LIMIT_CALLBACK_PER_MINUTE", 120),
			WebhookRequestsPerMinute:   getEnvInt("RATE_LIMIT_WEBHOOK_PER_MINUTE", 300),
			DashboardRequestsPerMinute: getEnvInt("RATE_LIMIT_DASHBOARD_PER_MINUTE", 120),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_HEADERS_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},
	}

	var errs []error
	for key, value := range map[string]string{
		"JWT_SECRET":             cfg.JWTSecret,
		"WIDGET_TOKEN_SECRET":    cfg.WidgetTokenSecret,
		"BILLING_WEBHOOK_SECRET": cfg.BillingWebhookSecret,
		"TELEPHONY_API_KEY":      cfg.TelephonyAPIKey,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	key, err := parseEncryptionKey(os.Getenv("SECRETS_ENCRYPTION_KEY"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SecretsEncryptionKey = key

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasRedis reports whether the plan cache should use Redis.
func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

// HasNATS reports whether events should be published.
func (c *Config) HasNATS() bool {
	return c.NATSURL != ""
}

func parseEncryptionKey(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("SECRETS_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(value)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("SECRETS_ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
