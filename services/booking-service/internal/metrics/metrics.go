package metrics

import (
	"context"

	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/booking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records booking outcomes. A nil *Metrics records nothing.
type Metrics struct {
	decisions     metric.Int64Counter
	cancellations metric.Int64Counter
	slotQueries   metric.Int64Counter
	bookLatency   metric.Float64Histogram
}

func New(meter metric.Meter) (*Metrics, error) {
	decisions, err := meter.Int64Counter("booking.decisions",
		metric.WithDescription("Booking validations by outcome"),
	)
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("booking.cancellations",
		metric.WithDescription("Cancellation requests by outcome"),
	)
	if err != nil {
		return nil, err
	}
	slotQueries, err := meter.Int64Counter("booking.slot_queries",
		metric.WithDescription("Day slot queries by cache result"),
	)
	if err != nil {
		return nil, err
	}
	bookLatency, err := meter.Float64Histogram("booking.book.duration",
		metric.WithDescription("Time spent in the locked booking transaction"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		decisions:     decisions,
		cancellations: cancellations,
		slotQueries:   slotQueries,
		bookLatency:   bookLatency,
	}, nil
}

func outcome(d booking.Decision) []attribute.KeyValue {
	reason := string(d.Reason)
	if d.Approved {
		reason = "Approved"
	}
	return []attribute.KeyValue{
		attribute.Bool("booking.approved", d.Approved),
		attribute.String("booking.reason", reason),
	}
}

func (m *Metrics) RecordDecision(ctx context.Context, d booking.Decision, elapsedMs float64) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(outcome(d)...))
	m.bookLatency.Record(ctx, elapsedMs, metric.WithAttributes(attribute.Bool("booking.approved", d.Approved)))
}

func (m *Metrics) RecordCancellation(ctx context.Context, d booking.Decision) {
	if m == nil {
		return
	}
	m.cancellations.Add(ctx, 1, metric.WithAttributes(outcome(d)...))
}

func (m *Metrics) RecordSlotQuery(ctx context.Context, cacheHit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.slotQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.result", result)))
}
