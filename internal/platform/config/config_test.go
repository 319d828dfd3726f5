package config_test

import (
	"log/slog"
	"testing"
	"time"

	"consolegate/internal/platform/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.GatewayAddr != ":8080" {
		t.Errorf("expected default gateway addr :8080, got %q", cfg.GatewayAddr)
	}
	if cfg.ConsoleURL != "http://localhost:3000" {
		t.Errorf("expected default console URL, got %q", cfg.ConsoleURL)
	}
	if cfg.AuthURL != "http://localhost:8081" {
		t.Errorf("expected default auth URL, got %q", cfg.AuthURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.Routes.TablePath != "" || cfg.Routes.UnmappedPolicy != "allow" {
		t.Errorf("unexpected route defaults %+v", cfg.Routes)
	}
	if cfg.Routes.SignInPath != "/login" || cfg.Routes.RemediationPath != "/zalo-link" {
		t.Errorf("unexpected redirect defaults %+v", cfg.Routes)
	}
	if cfg.Session.TokenBudget != 4000 || cfg.Session.CookieSecure {
		t.Errorf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.Refresh.Timeout != 10*time.Second || cfg.Refresh.RedisAddr != "" {
		t.Errorf("unexpected refresh defaults %+v", cfg.Refresh)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9090")
	t.Setenv("CONSOLE_URL", "http://console:3001")
	t.Setenv("API_URL", "http://api:9092")
	t.Setenv("AUTH_URL", "http://auth:9091")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ROUTE_TABLE_PATH", "/etc/consolegate/routes.yaml")
	t.Setenv("UNMAPPED_POLICY", "deny")
	t.Setenv("TOKEN_BUDGET", "3500")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("COOKIE_DOMAIN", "console.example.vn")
	t.Setenv("REFRESH_TIMEOUT", "3s")
	t.Setenv("REFRESH_CACHE_TTL", "1m")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := config.Load()

	if cfg.GatewayAddr != ":9090" || cfg.ConsoleURL != "http://console:3001" {
		t.Errorf("unexpected addresses %q %q", cfg.GatewayAddr, cfg.ConsoleURL)
	}
	if cfg.APIURL != "http://api:9092" || cfg.AuthURL != "http://auth:9091" {
		t.Errorf("unexpected upstreams %q %q", cfg.APIURL, cfg.AuthURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected 'debug', got %q", cfg.LogLevel)
	}
	if cfg.Routes.TablePath != "/etc/consolegate/routes.yaml" || cfg.Routes.UnmappedPolicy != "deny" {
		t.Errorf("unexpected routes %+v", cfg.Routes)
	}
	if cfg.Session.TokenBudget != 3500 || !cfg.Session.CookieSecure || cfg.Session.CookieDomain != "console.example.vn" {
		t.Errorf("unexpected session %+v", cfg.Session)
	}
	if cfg.Refresh.Timeout != 3*time.Second || cfg.Refresh.CacheTTL != time.Minute || cfg.Refresh.RedisAddr != "redis:6379" {
		t.Errorf("unexpected refresh %+v", cfg.Refresh)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TOKEN_BUDGET", "lots")
	t.Setenv("COOKIE_SECURE", "sometimes")
	t.Setenv("REFRESH_TIMEOUT", "10")
	t.Setenv("RATE_LIMIT_RATE", "fast")

	cfg := config.Load()

	if cfg.Session.TokenBudget != 4000 {
		t.Errorf("expected budget fallback 4000, got %d", cfg.Session.TokenBudget)
	}
	if cfg.Session.CookieSecure {
		t.Error("expected secure fallback false")
	}
	if cfg.Refresh.Timeout != 10*time.Second {
		t.Errorf("expected timeout fallback 10s, got %v", cfg.Refresh.Timeout)
	}
	if cfg.RateLimit.Rate != 100 {
		t.Errorf("expected rate fallback 100, got %f", cfg.RateLimit.Rate)
	}
}

func TestRateLimitDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.RateLimit.Rate != 100 {
		t.Errorf("expected rate 100, got %f", cfg.RateLimit.Rate)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("expected burst 20, got %d", cfg.RateLimit.Burst)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		if got := config.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
