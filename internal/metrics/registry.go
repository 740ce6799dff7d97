package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the auction-core metrics.
type Registry struct {
	meter metric.Meter

	// Bid engine
	BidAcceptedCounter metric.Int64Counter
	BidRejectedCounter metric.Int64Counter
	AdmissionDuration  metric.Float64Histogram

	// Lifecycle scheduler
	AuctionsActivated      metric.Int64Counter
	AuctionsClosed         metric.Int64Counter
	PaymentTimeoutsCounter metric.Int64Counter
	PaymentFallbacks       metric.Int64Counter
	TickDuration           metric.Float64Histogram
}

// NewRegistry creates the metric instruments against the global meter
// provider.
func NewRegistry() (*Registry, error) {
	meter := otel.Meter("auction-core")
	r := &Registry{meter: meter}

	var err error
	if r.BidAcceptedCounter, err = meter.Int64Counter("bids.accepted",
		metric.WithDescription("Bids admitted by the atomic script")); err != nil {
		return nil, err
	}
	if r.BidRejectedCounter, err = meter.Int64Counter("bids.rejected",
		metric.WithDescription("Bids rejected pre-script or by the script")); err != nil {
		return nil, err
	}
	if r.AdmissionDuration, err = meter.Float64Histogram("bids.admission.duration_ms",
		metric.WithDescription("End-to-end bid admission latency")); err != nil {
		return nil, err
	}
	if r.AuctionsActivated, err = meter.Int64Counter("auctions.activated"); err != nil {
		return nil, err
	}
	if r.AuctionsClosed, err = meter.Int64Counter("auctions.closed"); err != nil {
		return nil, err
	}
	if r.PaymentTimeoutsCounter, err = meter.Int64Counter("payments.timeouts"); err != nil {
		return nil, err
	}
	if r.PaymentFallbacks, err = meter.Int64Counter("payments.fallbacks"); err != nil {
		return nil, err
	}
	if r.TickDuration, err = meter.Float64Histogram("scheduler.tick.duration_ms"); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordAdmission records one bid admission attempt.
func (r *Registry) RecordAdmission(ctx context.Context, accepted bool, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	if accepted {
		r.BidAcceptedCounter.Add(ctx, 1)
	} else {
		r.BidRejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
	}
	r.AdmissionDuration.Record(ctx, float64(elapsed.Milliseconds()))
}

// RecordTick records one scheduler pass.
func (r *Registry) RecordTick(ctx context.Context, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.TickDuration.Record(ctx, float64(elapsed.Milliseconds()))
}
