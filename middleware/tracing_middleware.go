package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"nats-rpc/message"
	"nats-rpc/rpcerror"
)

const instrumentationName = "nats-rpc"

// TracingConfig configures OpenTelemetry instrumentation of outgoing calls.
type TracingConfig struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator injects the span context into message headers.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// DisableMetrics turns off the request counter and duration histogram.
	DisableMetrics bool
	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

// Tracing starts a client span per message, propagates it in the message
// headers and records request count and duration.
func Tracing(cfg TracingConfig) Middleware {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	tracer := cfg.TracerProvider.Tracer(instrumentationName)
	var (
		requests metric.Int64Counter
		duration metric.Float64Histogram
	)
	if !cfg.DisableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		requests, _ = meter.Int64Counter("rpc.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC calls sent"),
		)
		duration, _ = meter.Float64Histogram("rpc.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC calls"),
		)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			kind := trace.SpanKindClient
			if msg.Op != message.OpRequest {
				kind = trace.SpanKindProducer
			}
			attrs := []attribute.KeyValue{
				attribute.String("rpc.system", "nats"),
				attribute.String("rpc.method", msg.Method),
				attribute.String("messaging.destination.name", msg.Subject),
				attribute.String("messaging.operation", msg.Op.String()),
			}
			attrs = append(attrs, cfg.Attributes...)

			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", msg.Subject, msg.Op),
				trace.WithSpanKind(kind),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			if msg.Header == nil {
				msg.Header = make(map[string]string)
			}
			cfg.Propagator.Inject(ctx, propagation.MapCarrier(msg.Header))

			start := time.Now()
			resp, err := next(ctx, msg)

			status := "ok"
			if err != nil {
				status = errorStatus(err)
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
				span.SetAttributes(attribute.String("rpc.error_type", status))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			if requests != nil || duration != nil {
				metricAttrs := metric.WithAttributes(
					attribute.String("rpc.method", msg.Method),
					attribute.String("messaging.operation", msg.Op.String()),
					attribute.String("status", status),
				)
				if requests != nil {
					requests.Add(ctx, 1, metricAttrs)
				}
				if duration != nil {
					duration.Record(ctx, time.Since(start).Seconds(), metricAttrs)
				}
			}
			return resp, err
		}
	}
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, rpcerror.ErrTimeout):
		return "timeout"
	case errors.Is(err, rpcerror.ErrNoResponders):
		return "no_responders"
	case errors.Is(err, rpcerror.ErrConnection):
		return "connection"
	case errors.Is(err, rpcerror.ErrPublish):
		return "publish"
	case errors.Is(err, rpcerror.ErrRateLimited):
		return "rate_limited"
	}
	return "error"
}
