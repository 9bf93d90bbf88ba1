// Package api provides shared support for the HTTP API service.
package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "audit_api"

// APIMetrics defines the metrics recorded by the API service.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncAuditsStarted(ctx context.Context, mode string)
	IncAuditErrors(ctx context.Context, reason string)
	IncProgressSubscribers(ctx context.Context)
}

type apiMetrics struct {
	requestsTotal       metric.Int64Counter
	requestDuration     metric.Float64Histogram
	auditsStarted       metric.Int64Counter
	auditErrors         metric.Int64Counter
	progressSubscribers metric.Int64Counter
}

// NewAPIMetrics creates the metric instruments for the API service.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of API requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("API request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.auditsStarted, err = meter.Int64Counter(
		"audits_started_total",
		metric.WithDescription("Total number of audits started"),
	); err != nil {
		return nil, err
	}

	if m.auditErrors, err = meter.Int64Counter(
		"audit_errors_total",
		metric.WithDescription("Total number of audit request errors"),
	); err != nil {
		return nil, err
	}

	if m.progressSubscribers, err = meter.Int64Counter(
		"progress_subscribers_total",
		metric.WithDescription("Total number of progress stream subscriptions"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncAuditsStarted(ctx context.Context, mode string) {
	m.auditsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *apiMetrics) IncAuditErrors(ctx context.Context, reason string) {
	m.auditErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *apiMetrics) IncProgressSubscribers(ctx context.Context) {
	m.progressSubscribers.Add(ctx, 1)
}
