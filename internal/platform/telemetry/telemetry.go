package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Metrics holds all OTel instruments for the edge and the refresh coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	guardDecisionsTotal     otelmetric.Int64Counter
	refreshAttemptsTotal    otelmetric.Int64Counter
	refreshWaiters          otelmetric.Int64UpDownCounter
	compactionsTotal        otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	proxyRequestsTotal      otelmetric.Int64Counter
	proxyDuration           otelmetric.Float64Histogram
}

// NewMetrics creates and registers all consolegate metrics.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("consolegate")
	m := &Metrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("consolegate_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("consolegate_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.guardDecisionsTotal, err = meter.Int64Counter("consolegate_guard_decisions_total",
		otelmetric.WithDescription("Route guard outcomes by terminal state")); err != nil {
		return nil, fmt.Errorf("creating guard_decisions_total: %w", err)
	}
	if m.refreshAttemptsTotal, err = meter.Int64Counter("consolegate_refresh_attempts_total",
		otelmetric.WithDescription("Upstream token refresh calls")); err != nil {
		return nil, fmt.Errorf("creating refresh_attempts_total: %w", err)
	}
	if m.refreshWaiters, err = meter.Int64UpDownCounter("consolegate_refresh_waiters",
		otelmetric.WithDescription("Callers waiting on an in-flight refresh")); err != nil {
		return nil, fmt.Errorf("creating refresh_waiters: %w", err)
	}
	if m.compactionsTotal, err = meter.Int64Counter("consolegate_token_compactions_total",
		otelmetric.WithDescription("Access tokens compacted to fit the credential slot")); err != nil {
		return nil, fmt.Errorf("creating token_compactions_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("consolegate_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("consolegate_proxy_requests_total",
		otelmetric.WithDescription("Total proxy requests")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("consolegate_proxy_duration_seconds",
		otelmetric.WithDescription("Proxy request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordGuardDecision records the state a navigation ended in.
func (m *Metrics) RecordGuardDecision(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.guardDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(stateAttr(state)))
}

// RecordRefreshAttempt records one upstream refresh call. caller is "client"
// for the Go transport and "edge" for the route guard.
func (m *Metrics) RecordRefreshAttempt(ctx context.Context, caller, result string) {
	if m == nil {
		return
	}
	m.refreshAttemptsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		callerAttr(caller),
		resultAttr(result),
	))
}

// AddRefreshWaiters adjusts the number of callers parked behind a refresh.
func (m *Metrics) AddRefreshWaiters(ctx context.Context, caller string, delta int64) {
	if m == nil {
		return
	}
	m.refreshWaiters.Add(ctx, delta, otelmetric.WithAttributes(callerAttr(caller)))
}

// RecordCompaction records an access token rewritten by strategy.
func (m *Metrics) RecordCompaction(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.compactionsTotal.Add(ctx, 1, otelmetric.WithAttributes(strategyAttr(strategy)))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *Metrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	if m == nil {
		return
	}
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordProxyRequest records a proxied request to an upstream.
func (m *Metrics) RecordProxyRequest(ctx context.Context, upstream string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		upstreamAttr(upstream),
		statusAttr(status),
	)
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
