package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsCollector records task lifecycle metrics. A zero value is a valid
// collector that drops every measurement.
type MetricsCollector struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	remoteRequests metric.Int64Counter
	remoteLatency  metric.Float64Histogram
	polls          metric.Int64Counter
	probes         metric.Int64Counter
	resolutions    metric.Int64Counter
	tasksStarted   metric.Int64Counter
	taskDuration   metric.Float64Histogram
}

// NewMetricsCollector creates a collector backed by a private Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("agentstudio")

	m := &MetricsCollector{registry: registry, provider: provider}

	if m.remoteRequests, err = meter.Int64Counter(
		"agentstudio.remote.requests.total",
		metric.WithDescription("Requests issued to the automation API"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create remote_requests counter: %w", err)
	}

	if m.remoteLatency, err = meter.Float64Histogram(
		"agentstudio.remote.latency",
		metric.WithDescription("Automation API request latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create remote_latency histogram: %w", err)
	}

	if m.polls, err = meter.Int64Counter(
		"agentstudio.poll.ticks.total",
		metric.WithDescription("Status poll ticks by outcome"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create poll_ticks counter: %w", err)
	}

	if m.probes, err = meter.Int64Counter(
		"agentstudio.artifact.probes.total",
		metric.WithDescription("Screenshot candidate probes by outcome"),
		metric.WithUnit("{probe}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create artifact_probes counter: %w", err)
	}

	if m.resolutions, err = meter.Int64Counter(
		"agentstudio.artifact.resolutions.total",
		metric.WithDescription("Finished screenshot resolutions by result kind"),
		metric.WithUnit("{resolution}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create artifact_resolutions counter: %w", err)
	}

	if m.tasksStarted, err = meter.Int64Counter(
		"agentstudio.tasks.started.total",
		metric.WithDescription("Task start attempts by outcome"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tasks_started counter: %w", err)
	}

	if m.taskDuration, err = meter.Float64Histogram(
		"agentstudio.task.duration",
		metric.WithDescription("Wall-clock time from start to terminal status in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create task_duration histogram: %w", err)
	}

	return m, nil
}

// Handler serves the collector's registry in the Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRemoteRequest records one call to the automation API.
func (m *MetricsCollector) RecordRemoteRequest(ctx context.Context, operation string, statusCode int, latency time.Duration) {
	if m == nil || m.remoteRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status_code", statusCode),
	)
	m.remoteRequests.Add(ctx, 1, attrs)
	m.remoteLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordPoll records a poll tick outcome: applied, stale, failed.
func (m *MetricsCollector) RecordPoll(ctx context.Context, outcome string) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProbe records a single candidate probe.
func (m *MetricsCollector) RecordProbe(ctx context.Context, candidate string, outcome string) {
	if m == nil || m.probes == nil {
		return
	}
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("candidate", candidate),
		attribute.String("outcome", outcome),
	))
}

// RecordResolution records the final result of a screenshot resolution.
func (m *MetricsCollector) RecordResolution(ctx context.Context, kind string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTaskStart records a start attempt.
func (m *MetricsCollector) RecordTaskStart(ctx context.Context, taskType string, outcome string) {
	if m == nil || m.tasksStarted == nil {
		return
	}
	m.tasksStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("outcome", outcome),
	))
}

// RecordTaskDuration records how long a task took to reach a terminal status.
func (m *MetricsCollector) RecordTaskDuration(ctx context.Context, status string, duration time.Duration) {
	if m == nil || m.taskDuration == nil {
		return
	}
	m.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
