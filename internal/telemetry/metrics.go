package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	snapshots   metric.Int64Counter
	replies     metric.Int64Counter
	sessionEnds metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	snapshots, err := m.Int64Counter("ussd.snapshots.total", metric.WithDescription("Snapshots evaluated by the debounce gate."))
	if err != nil {
		return nil, err
	}
	replies, err := m.Int64Counter("ussd.replies.total", metric.WithDescription("Replies submitted to sessions."))
	if err != nil {
		return nil, err
	}
	ends, err := m.Int64Counter("ussd.sessions.ended", metric.WithDescription("Sessions removed from the registry."))
	if err != nil {
		return nil, err
	}
	return &metrics{snapshots: snapshots, replies: replies, sessionEnds: ends}, nil
}

// Metric attributes are bounded sets only. Session ids stay on spans.

func (m *metrics) recordSnapshot(ctx context.Context, accepted bool, reason string) {
	if m == nil || m.snapshots == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrAccepted.Bool(accepted)}
	if reason != "" {
		attrs = append(attrs, AttrRejectReason.String(reason))
	}
	m.snapshots.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordReply(ctx context.Context) {
	if m == nil || m.replies == nil {
		return
	}
	m.replies.Add(ctx, 1)
}

func (m *metrics) recordSessionEnd(ctx context.Context, state string) {
	if m == nil || m.sessionEnds == nil {
		return
	}
	m.sessionEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("ussd.final_state", state)))
}
