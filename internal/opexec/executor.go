// Package opexec runs named store operations with timing, metrics, tracing and error
// annotation.
package opexec

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mvlease/internal/logging"
	"mvlease/internal/metrics"
	"mvlease/internal/tracing"
)

// Executor is shared by every operation against one collection.
type Executor struct {
	name    string
	metrics *metrics.OperationMetrics
	logger  logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Executor)

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(ex *Executor) {
		ex.tracer = tp.Tracer(tracing.InstrumentationName + "/opexec")
	}
}

// New returns an executor for the named collection. m may be nil.
func New(name string, m *metrics.OperationMetrics, logger logging.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	ex := &Executor{
		name:    name,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracing.InstrumentationName + "/opexec"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Execute runs fn as operation op inside a client span. Errors are wrapped with the
// collection and op name but keep their identity for errors.Is.
func Execute[T any](ctx context.Context, ex *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := ex.tracer.Start(ctx, ex.name+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.collection.name", ex.name),
			attribute.String("db.operation.name", op),
		))
	defer span.End()

	start := ex.now()
	out, err := fn(ctx)
	elapsed := ex.now().Sub(start)
	ex.metrics.Observe(op, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ex.logger.DebugCtx(ctx, "store operation failed", "collection", ex.name, "op", op,
			"elapsed", elapsed, "error", err)
		var zero T
		return zero, errors.Wrapf(err, "%s.%s", ex.name, op)
	}
	return out, nil
}
