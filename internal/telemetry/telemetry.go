// Package telemetry wires OpenTelemetry tracing and metrics for snapshot and
// reply handling, with masking of PIN-like content before it reaches spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/bhandras/ussdpilot/internal/telemetry"

var (
	AttrSessionID = attribute.Key("ussd.session_id")
	AttrEventType = attribute.Key("ussd.event_type")
	AttrState     = attribute.Key("ussd.state")
	AttrAccepted  = attribute.Key("ussd.accepted")
	AttrText      = attribute.Key("ussd.text")

	AttrRejectReason = attribute.Key("ussd.reject_reason")
)

// Config drives how telemetry is initialized.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, exports spans over OTLP/HTTP to this URL.
	OTLPEndpoint   string
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Filter         FilterConfig
}

// Manager coordinates tracing, metrics and sensitive-data filtering.
// A nil *Manager is valid and records nothing.
type Manager struct {
	tracer  trace.Tracer
	filter  *Filter
	metrics *metrics

	tracerProvider trace.TracerProvider
}

// NewManager builds a telemetry manager. Without an explicit provider or
// OTLP endpoint, spans are created by an SDK provider with no exporter.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	tp := cfg.TracerProvider
	if tp == nil {
		res, err := buildResource(cfg)
		if err != nil {
			return nil, err
		}
		opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
			exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
			if err != nil {
				return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
			}
			opts = append(opts, sdktrace.WithBatcher(exp))
		}
		tp = sdktrace.NewTracerProvider(opts...)
	}

	mp := cfg.MeterProvider
	if mp == nil {
		mp = sdkmetric.NewMeterProvider()
	}
	recorder, err := newMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	return &Manager{
		tracer:         tp.Tracer(instrumentationName),
		filter:         filter,
		metrics:        recorder,
		tracerProvider: tp,
	}, nil
}

// StartSpan proxies trace creation through the configured tracer.
func (m *Manager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(m.filter.MaskAttributes(attrs...)...))
}

// MaskText removes sensitive content from the provided value.
func (m *Manager) MaskText(value string) string {
	if m == nil {
		return MaskText(value)
	}
	return m.filter.MaskText(value)
}

// RecordSnapshot counts one debounce decision. reason is the gate's
// rejection reason and is empty for accepted snapshots.
func (m *Manager) RecordSnapshot(ctx context.Context, accepted bool, reason string) {
	if m == nil {
		return
	}
	m.metrics.recordSnapshot(ctx, accepted, reason)
}

// RecordReply counts one reply submitted to a session.
func (m *Manager) RecordReply(ctx context.Context) {
	if m == nil {
		return
	}
	m.metrics.recordReply(ctx)
}

// RecordSessionEnd counts a finished session by its final state.
func (m *Manager) RecordSessionEnd(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.metrics.recordSessionEnd(ctx, state)
}

// Shutdown flushes and stops the tracer provider when it supports it.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if closer, ok := m.tracerProvider.(interface {
		Shutdown(context.Context) error
	}); ok && closer != nil {
		return closer.Shutdown(ctx)
	}
	return nil
}

// EndSpan finalizes span state while standardizing error recording.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	span.End()
}

func buildResource(cfg Config) (*resource.Resource, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "ussdpilot"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", service)}
	if version := strings.TrimSpace(cfg.ServiceVersion); version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, err
	}
	return res, nil
}
