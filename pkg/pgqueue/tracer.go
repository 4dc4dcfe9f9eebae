package pgqueue

import (
	"context"
	"strings"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	trace "go.opentelemetry.io/otel/trace"
)

//////////////////////////////////////////////////////////////////////////////
// TYPES

// TraceFn is called when a query completes, with the SQL, the arguments
// and the error if any
type TraceFn func(context.Context, string, any, error)

// tracer is a pgx query tracer which calls a TraceFn and emits OTEL spans.
// It is safe for concurrent use.
type tracer struct {
	TraceFn
	otel trace.Tracer
}

type queryData struct {
	span trace.Span
	sql  string
	args []any
}

type ctxKey struct{}

var _ pgx.QueryTracer = (*tracer)(nil)

//////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Named argument which sets the span name for a query
	TraceSpanNameArg = "otelspan"
)

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (t *tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qd := &queryData{
		sql:  data.SQL,
		args: data.Args,
	}

	// Start a span
	if t.otel != nil {
		ctx, qd.span = t.otel.Start(ctx, spanName(data.Args),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				attribute.String("db.statement", data.SQL),
			),
		)
	}

	return context.WithValue(ctx, ctxKey{}, qd)
}

func (t *tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qd, ok := ctx.Value(ctxKey{}).(*queryData)
	if !ok {
		return
	}

	// End the span
	if qd.span != nil {
		if data.Err != nil {
			qd.span.RecordError(data.Err)
			qd.span.SetStatus(codes.Error, data.Err.Error())
		}
		qd.span.End()
	}

	if t.TraceFn != nil {
		t.TraceFn(ctx, strings.TrimSpace(qd.sql), args(qd.args), data.Err)
	}
}

//////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func spanName(args []any) string {
	for _, arg := range args {
		if named, ok := arg.(pgx.NamedArgs); ok {
			if s, ok := named[TraceSpanNameArg].(string); ok && s != "" {
				return s
			}
		}
	}
	return "pg.query"
}

func args(args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		return args
	}
}
