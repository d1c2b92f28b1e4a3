// Package order submits checkout payloads to the order API.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// Outcome labels recorded on the submission counter.
const (
	outcomeCreated   = "created"
	outcomeRejected  = "rejected"
	outcomeTransport = "transport"
	outcomeTimeout   = "timeout"
	outcomeUnknown   = "unknown"
)

// Submitter performs exactly one API call per submission. It never retries
// and imposes no timeout of its own; deadlines come from ctx or the API's
// transport. Concurrent submissions sharing an idempotency key are collapsed
// into a single call.
type Submitter struct {
	api   API
	group singleflight.Group

	tracer      trace.Tracer
	submissions metric.Int64Counter
	duration    metric.Float64Histogram
}

// Option configures a Submitter.
type Option func(*submitterOptions)

type submitterOptions struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *submitterOptions) { o.tp = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *submitterOptions) { o.mp = mp }
}

// NewSubmitter creates a Submitter calling api.
func NewSubmitter(api API, opts ...Option) (*Submitter, error) {
	o := submitterOptions{
		tp: otel.GetTracerProvider(),
		mp: otel.GetMeterProvider(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	submissions, err := meter.Int64Counter("storefront.order.submissions",
		metric.WithDescription("Order submissions by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create submissions counter")
	}
	duration, err := meter.Float64Histogram("storefront.order.submit.duration",
		metric.WithDescription("Order API call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return &Submitter{
		api:         api,
		tracer:      o.tp.Tracer(instrumentationName),
		submissions: submissions,
		duration:    duration,
	}, nil
}

// Submit creates the order described by p and returns its identifier.
// Failures are returned as *TransportError, *RejectedError or *UnknownError.
func (s *Submitter) Submit(ctx context.Context, p Payload) (string, error) {
	ctx, span := s.tracer.Start(ctx, "order.Submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("order.idempotency_key", p.IdempotencyKey),
			attribute.Int("order.items", len(p.Items)),
			attribute.String("order.payment_kind", p.Payment.Kind),
		),
	)
	defer span.End()

	start := time.Now()
	var (
		id     string
		err    error
		shared bool
	)
	if p.IdempotencyKey == "" {
		id, err = s.api.CreateOrder(ctx, p)
	} else {
		var v any
		v, err, shared = s.group.Do(p.IdempotencyKey, func() (any, error) {
			return s.api.CreateOrder(ctx, p)
		})
		id, _ = v.(string)
	}
	span.SetAttributes(attribute.Bool("order.shared", shared))

	err = Classify(err)
	outcome := outcomeOf(err)
	s.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	s.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)

		lg := zctx.From(ctx).With(
			zap.String("idempotency_key", p.IdempotencyKey),
			zap.String("outcome", outcome),
		)
		var unknown *UnknownError
		if errors.As(err, &unknown) {
			lg.Error("Order submission failed", zap.Error(err))
		} else {
			lg.Warn("Order submission failed", zap.Error(err))
		}
		return "", err
	}

	span.SetAttributes(attribute.String("order.id", id))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", id),
		zap.String("idempotency_key", p.IdempotencyKey),
		zap.Bool("shared", shared),
	)
	return id, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeCreated
	}
	var (
		transport *TransportError
		rejected  *RejectedError
	)
	switch {
	case errors.As(err, &transport):
		if transport.Timeout() {
			return outcomeTimeout
		}
		return outcomeTransport
	case errors.As(err, &rejected):
		return outcomeRejected
	default:
		return outcomeUnknown
	}
}
