package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the gateway
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// HTTP metrics
	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	// Agent execution metrics
	agentExecutions metric.Int64Counter
	agentLatency    metric.Float64Histogram

	// Session metrics
	sessionsCreated metric.Int64Counter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("agentgate")

	httpRequests, err := meter.Int64Counter(
		"agentgate.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests counter: %w", err)
	}

	httpLatency, err := meter.Float64Histogram(
		"agentgate.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_latency histogram: %w", err)
	}

	agentExecutions, err := meter.Int64Counter(
		"agentgate.agent.executions.total",
		metric.WithDescription("Total number of agent executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_executions counter: %w", err)
	}

	agentLatency, err := meter.Float64Histogram(
		"agentgate.agent.execution.duration",
		metric.WithDescription("Agent execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_latency histogram: %w", err)
	}

	sessionsCreated, err := meter.Int64Counter(
		"agentgate.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_created counter: %w", err)
	}

	return &MetricsCollector{
		meter:           meter,
		provider:        provider,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		agentExecutions: agentExecutions,
		agentLatency:    agentLatency,
		sessionsCreated: sessionsCreated,
	}, nil
}

// RecordHTTPRequest records one served HTTP request
func (m *MetricsCollector) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
}

// RecordAgentExecution records one dispatch outcome
func (m *MetricsCollector) RecordAgentExecution(ctx context.Context, agentType, outcome string, duration time.Duration) {
	if m == nil || m.agentExecutions == nil {
		return
	}
	m.agentExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("outcome", outcome),
	))
	m.agentLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("agent_type", agentType),
	))
}

// RecordSessionCreated records one session creation
func (m *MetricsCollector) RecordSessionCreated(ctx context.Context) {
	if m == nil || m.sessionsCreated == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1)
}

// Handler returns the Prometheus scrape handler
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.meter == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promclient.Handler()
}

// Shutdown flushes and stops the meter provider
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
