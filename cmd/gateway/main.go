package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consolegate/internal/credential"
	"consolegate/internal/gateway/adapter/authapi"
	"consolegate/internal/gateway/adapter/inmem"
	"consolegate/internal/gateway/adapter/proxy"
	"consolegate/internal/gateway/adapter/rediscache"
	"consolegate/internal/gateway/middleware"
	"consolegate/internal/platform/config"
	"consolegate/internal/platform/server"
	"consolegate/internal/platform/telemetry"
	"consolegate/internal/refresh"
	"consolegate/internal/routes"
)

func main() {
	cfg := config.Load()

	// Logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(context.Background(), "consolegate")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		os.Exit(1)
	}

	// Route table
	unmapped, err := routes.ParseUnmappedPolicy(cfg.Routes.UnmappedPolicy)
	if err != nil {
		slog.Error("invalid unmapped route policy", "error", err)
		os.Exit(1)
	}
	table, err := loadTable(cfg.Routes.TablePath, unmapped)
	if err != nil {
		slog.Error("route table load failed", "error", err, "path", cfg.Routes.TablePath)
		os.Exit(1)
	}

	// Refresh path: one upstream call per refresh token, results parked so
	// navigations still holding a rotated token reuse the new pair.
	var cache refresh.ResultCache = inmem.NewRefreshCache(cfg.Refresh.CacheSize, cfg.Refresh.CacheTTL)
	var closeRedis func(context.Context) error
	if cfg.Refresh.RedisAddr != "" {
		client, err := rediscache.Open(ctx, cfg.Refresh.RedisAddr)
		if err != nil {
			slog.Error("redis connection failed", "error", err, "addr", cfg.Refresh.RedisAddr)
			os.Exit(1)
		}
		cache = rediscache.New(client, cfg.Refresh.CacheTTL)
		closeRedis = func(context.Context) error { return client.Close() }
	}
	authClient := authapi.NewClient(cfg.AuthURL, cfg.Refresh.Timeout)
	refresher := refresh.NewGroup(authClient, cache, refresh.Options{Logger: logger, Metrics: metrics})

	// Rate limiter
	rl := inmem.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	go rl.RunJanitor(ctx, 5*time.Minute)

	cookies := credential.CookieOptions{
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.CookieMaxAge,
	}

	// Router
	router, err := proxy.NewRouter(proxy.Config{
		ConsoleURL: cfg.ConsoleURL,
		APIURL:     cfg.APIURL,
		AuthURL:    cfg.AuthURL,
		SignInPath: cfg.Routes.SignInPath,
		Cookies:    cookies,
		Table:      table,
		Sessions:   refresher,
	}, metrics)
	if err != nil {
		slog.Error("router initialization failed", "error", err)
		os.Exit(1)
	}

	probes := []string{"/healthz", "/readyz", "/metrics"}

	// Assemble middleware chain
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	const maxBodyBytes = 1 << 20 // 1MB
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(maxBodyBytes),
		middleware.RateLimit(rl, metrics, probes...),
		middleware.Guard(middleware.GuardConfig{
			Table:           table,
			Refresher:       refresher,
			PublicPaths:     append(probes, "/session", cfg.Routes.SignInPath),
			SkipPrefixes:    []string{"/api/", "/auth/", "/_next/", "/static/", "/favicon"},
			SignInPath:      cfg.Routes.SignInPath,
			RemediationPath: cfg.Routes.RemediationPath,
			Cookies:         cookies,
			Budget:          cfg.Session.TokenBudget,
			Logger:          logger,
			Metrics:         metrics,
		}),
	))

	// Start server
	srv := server.New(cfg.GatewayAddr, mux)
	srv.OnShutdown(func(ctx context.Context) error { return shutdown(ctx) })
	if closeRedis != nil {
		srv.OnShutdown(closeRedis)
	}

	slog.Info("consolegate starting",
		"addr", cfg.GatewayAddr,
		"console_url", cfg.ConsoleURL,
		"api_url", cfg.APIURL,
		"auth_url", cfg.AuthURL,
		"routes", table.Len(),
		"unmapped_policy", string(table.Unmapped()),
		"shared_refresh_cache", cfg.Refresh.RedisAddr != "",
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func loadTable(path string, unmapped routes.UnmappedPolicy) (*routes.Table, error) {
	if path == "" {
		return routes.Default(unmapped)
	}
	return routes.Load(path, unmapped)
}
