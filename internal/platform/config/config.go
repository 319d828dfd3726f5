package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the console edge.
type Config struct {
	GatewayAddr string
	ConsoleURL  string // console page server (e.g. http://console:3000)
	APIURL      string // business API behind /api/
	AuthURL     string // issuing backend behind /auth/, also the refresh endpoint
	LogLevel    string

	Routes    RoutesConfig
	Session   SessionConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
}

// RoutesConfig selects the resource mapping table and redirect targets.
type RoutesConfig struct {
	TablePath       string // empty uses the embedded table
	UnmappedPolicy  string // allow or deny
	SignInPath      string
	RemediationPath string
}

// SessionConfig controls the credential cookies written at the edge.
type SessionConfig struct {
	TokenBudget  int
	CookieSecure bool
	CookieDomain string
	CookieMaxAge time.Duration
}

// RefreshConfig controls server-side renewal of expired sessions.
type RefreshConfig struct {
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	RedisAddr string // non-empty shares refresh results across replicas
}

// RateLimitConfig holds token bucket parameters for per-IP rate limiting.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// Load reads configuration from environment variables, falling back to defaults.
func Load() Config {
	return Config{
		GatewayAddr: envOr("GATEWAY_ADDR", ":8080"),
		ConsoleURL:  envOr("CONSOLE_URL", "http://localhost:3000"),
		APIURL:      envOr("API_URL", "http://localhost:8082"),
		AuthURL:     envOr("AUTH_URL", "http://localhost:8081"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		Routes: RoutesConfig{
			TablePath:       os.Getenv("ROUTE_TABLE_PATH"),
			UnmappedPolicy:  envOr("UNMAPPED_POLICY", "allow"),
			SignInPath:      envOr("SIGN_IN_PATH", "/login"),
			RemediationPath: envOr("REMEDIATION_PATH", "/zalo-link"),
		},
		Session: SessionConfig{
			TokenBudget:  envInt("TOKEN_BUDGET", 4000),
			CookieSecure: envBool("COOKIE_SECURE", false),
			CookieDomain: os.Getenv("COOKIE_DOMAIN"),
			CookieMaxAge: envDuration("COOKIE_MAX_AGE", 7*24*time.Hour),
		},
		Refresh: RefreshConfig{
			Timeout:   envDuration("REFRESH_TIMEOUT", 10*time.Second),
			CacheTTL:  envDuration("REFRESH_CACHE_TTL", 30*time.Second),
			CacheSize: envInt("REFRESH_CACHE_SIZE", 4096),
			RedisAddr: os.Getenv("REDIS_ADDR"),
		},
		RateLimit: RateLimitConfig{
			Rate:  envFloat("RATE_LIMIT_RATE", 100),
			Burst: envInt("RATE_LIMIT_BURST", 20),
		},
	}
}

// ParseLogLevel maps LOG_LEVEL values to slog levels; unknown values are info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return d
	}
	return fallback
}
