package worker

import (
	"errors"
	"os"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	server "github.com/mutablelogic/go-server"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	trace "go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"
	rate "golang.org/x/time/rate"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for the message loop and periodic runner.
type Opt func(*opts) error

type opts struct {
	log     server.Logger
	metrics *Metrics
	tracer  trace.Tracer
	limiter *rate.Limiter
}

////////////////////////////////////////////////////////////////////////////////
// ERRORS

var (
	ErrBadParameter = errors.New("bad parameter")
)

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithLogger sets the logger. Defaults to text output on stderr.
func WithLogger(log server.Logger) Opt {
	return func(o *opts) error {
		if log == nil {
			return errors.Join(ErrBadParameter, errors.New("logger is nil"))
		}
		o.log = log
		return nil
	}
}

// WithMetrics sets the prometheus metrics to record to.
func WithMetrics(metrics *Metrics) Opt {
	return func(o *opts) error {
		o.metrics = metrics
		return nil
	}
}

// WithTracer sets the OTEL tracer. Spans are created per message and per
// periodic attempt.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *opts) error {
		if tracer != nil {
			o.tracer = tracer
		}
		return nil
	}
}

// WithRateLimit limits how often the message loop receives from the queue.
// Only applies to the message loop. The limiter burst must be at least one.
func WithRateLimit(limiter *rate.Limiter) Opt {
	return func(o *opts) error {
		if limiter != nil && limiter.Burst() < 1 {
			return errors.Join(ErrBadParameter, errors.New("rate limit burst must be at least one"))
		}
		o.limiter = limiter
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	// Set defaults
	o := opts{
		log:    logger.New(os.Stderr, logger.Text, false),
		tracer: noop.NewTracerProvider().Tracer(schema.SchemaName),
	}

	// Apply options
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return opts{}, err
		}
	}

	// Return success
	return o, nil
}
