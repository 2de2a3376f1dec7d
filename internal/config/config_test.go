package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.TranscriptCacheTTL != 15*time.Minute {
		t.Fatalf("expected default transcript cache TTL, got %s", cfg.TranscriptCacheTTL)
	}
	if cfg.ConversionListMax != 50 {
		t.Fatalf("expected default conversion list max, got %d", cfg.ConversionListMax)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins by default, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("ORDER_WEBHOOK_SECRET", "whsec")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRANSCRIPT_CACHE_TTL", "45m")
	t.Setenv("CONVERSION_LIST_MAX", "200")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "cache:6380" || !cfg.RedisTLS {
		t.Fatalf("expected redis overrides, got %s tls=%v", cfg.RedisAddr, cfg.RedisTLS)
	}
	if cfg.OrderWebhookSecret != "whsec" {
		t.Fatalf("expected webhook secret override, got %s", cfg.OrderWebhookSecret)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("expected trimmed CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.TranscriptCacheTTL != 45*time.Minute {
		t.Fatalf("expected transcript cache TTL override, got %s", cfg.TranscriptCacheTTL)
	}
	if cfg.ConversionListMax != 200 {
		t.Fatalf("expected conversion list max override, got %d", cfg.ConversionListMax)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONVERSION_LIST_MAX", "lots")
	t.Setenv("TRANSCRIPT_CACHE_TTL", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.ConversionListMax != 50 {
		t.Fatalf("expected default on bad int, got %d", cfg.ConversionListMax)
	}
	if cfg.TranscriptCacheTTL != 15*time.Minute {
		t.Fatalf("expected default on bad duration, got %s", cfg.TranscriptCacheTTL)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected default on bad bool")
	}
}
