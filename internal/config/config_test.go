package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	t.Setenv("WIDGET_TOKEN_SECRET", "widget-secret")
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("TELEPHONY_API_KEY", "api-key")
	t.Setenv("SECRETS_ENCRYPTION_KEY", testKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, v := range []string{"SERVER_ADDR", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_SSLMODE", "PLAN_CACHE_TTL", "REDIS_URL", "NATS_URL", "RATE_LIMIT_ENABLED", "DASHBOARD_ALLOWED_ORIGINS"} {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerAddr != "0.0.0.0" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, "0.0.0.0")
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.DBPort != 25432 {
		t.Errorf("DBPort = %d, want %d", cfg.DBPort, 25432)
	}
	if cfg.PlanCacheTTL != 5*time.Minute {
		t.Errorf("PlanCacheTTL = %v, want %v", cfg.PlanCacheTTL, 5*time.Minute)
	}
	if cfg.WidgetTokenTTL != 30*24*time.Hour {
		t.Errorf("WidgetTokenTTL = %v, want %v", cfg.WidgetTokenTTL, 30*24*time.Hour)
	}
	if cfg.MaxCallDuration != 4*time.Hour {
		t.Errorf("MaxCallDuration = %v, want %v", cfg.MaxCallDuration, 4*time.Hour)
	}
	if len(cfg.SecretsEncryptionKey) != 32 {
		t.Errorf("SecretsEncryptionKey length = %d, want 32", len(cfg.SecretsEncryptionKey))
	}
	if cfg.HasRedis() || cfg.HasNATS() {
		t.Error("Redis and NATS should be disabled by default")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("rate limiting should be enabled by default")
	}
	if len(cfg.DashboardOrigins) != 1 || cfg.DashboardOrigins[0] != "http://localhost:3000" {
		t.Errorf("DashboardOrigins = %v", cfg.DashboardOrigins)
	}
}

func TestLoad_RequiredSecrets(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"jwt secret", "JWT_SECRET"},
		{"widget token secret", "WIDGET_TOKEN_SECRET"},
		{"billing webhook secret", "BILLING_WEBHOOK_SECRET"},
		{"telephony api key", "TELEPHONY_API_KEY"},
		{"encryption key", "SECRETS_ENCRYPTION_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("Load should fail when %s is not set", tt.unset)
			}
			if !strings.Contains(err.Error(), tt.unset) {
				t.Errorf("error %q should name %s", err, tt.unset)
			}
		})
	}
}

func TestLoad_InvalidEncryptionKey(t *testing.T) {
	setRequired(t)
	t.Setenv("SECRETS_ENCRYPTION_KEY", "abcd")

	if _, err := Load(); err == nil {
		t.Error("Load should reject a short encryption key")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/callgate")
	t.Setenv("PLAN_CACHE_TTL", "30s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("DASHBOARD_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 9090)
	}
	if cfg.DatabaseURL != "postgres://u:p@db:5432/callgate" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.PlanCacheTTL != 30*time.Second {
		t.Errorf("PlanCacheTTL = %v, want %v", cfg.PlanCacheTTL, 30*time.Second)
	}
	if !cfg.HasRedis() || !cfg.HasNATS() {
		t.Error("Redis and NATS should be enabled")
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limiting should be disabled")
	}
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if strings.Join(cfg.DashboardOrigins, "|") != strings.Join(want, "|") {
		t.Errorf("DashboardOrigins = %v, want %v", cfg.DashboardOrigins, want)
	}
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")

	if result := getEnvInt("TEST_INT", 42); result != 42 {
		t.Errorf("getEnvInt should return default for invalid value, got %d", result)
	}
}

func TestGetEnvDuration_InvalidValue(t *testing.T) {
	t.Setenv("TEST_DURATION", "invalid")

	if result := getEnvDuration("TEST_DURATION", 5*time.Minute); result != 5*time.Minute {
		t.Errorf("getEnvDuration should return default for invalid value, got %v", result)
	}
}

func TestGetEnvBool_InvalidValue(t *testing.T) {
	t.Setenv("TEST_BOOL", "maybe")

	if result := getEnvBool("TEST_BOOL", true); !result {
		t.Error("getEnvBool should return default for invalid value")
	}
}
