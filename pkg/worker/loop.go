package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// MessageLoop is an at-least-once consumer of a single queue
type MessageLoop struct {
	opts
	name     string
	gateway  Gateway
	handler  Handler
	settings SettingsProvider
	now      func() time.Time
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewMessageLoop returns a loop which receives messages from gateway and
// processes them with handler. The name is used for logging and metrics.
func NewMessageLoop(name string, gateway Gateway, handler Handler, settings SettingsProvider, opt ...Opt) (*MessageLoop, error) {
	if name == "" {
		return nil, errors.Join(ErrBadParameter, errors.New("name is empty"))
	}
	if gateway == nil || handler == nil || settings == nil {
		return nil, errors.Join(ErrBadParameter, errors.New("gateway, handler and settings are required"))
	}

	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}

	// Return success
	return &MessageLoop{
		opts:     o,
		name:     name,
		gateway:  gateway,
		handler:  handler,
		settings: settings,
		now:      time.Now,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the name of the loop
func (loop *MessageLoop) Name() string {
	return loop.name
}

// Run processes one message per iteration until the context is cancelled.
// Errors are logged and never end the loop.
func (loop *MessageLoop) Run(ctx context.Context) error {
	log := loop.log.With("queue", loop.name)
	errSleep := schema.DefaultMessageErrorSleepPeriod

	for ctx.Err() == nil {
		var wait, pause time.Duration

		// Read the settings fresh each time
		settings, err := loop.settings.Settings(ctx)
		if err == nil {
			err = settings.Validate()
		}
		if err == nil {
			errSleep = settings.MessageErrorSleepPeriod
			wait, pause, err = loop.iterate(ctx, settings)
		}

		// Report a pause requested by the handler
		if pause > 0 {
			loop.metrics.setPaused(loop.name, pause)
			log.With("pause", pause.String()).Print(ctx, "pausing")
		}

		// Loop body errors pause for at least the error sleep period
		if err != nil && ctx.Err() == nil {
			loop.metrics.countMessage(loop.name, ResultError)
			log.Print(ctx, err)
			wait = max(wait, errSleep)
		}

		sleep(ctx, max(wait, pause))
	}

	// Cancelled
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// iterate receives and processes at most one message. It returns the idle
// wait before the next poll, and separately any pause the handler requested.
func (loop *MessageLoop) iterate(ctx context.Context, settings schema.Settings) (wait, pause time.Duration, err error) {
	// Disabled, check back later
	if !settings.Enabled {
		return settings.EmptyQueuePollDelay, 0, nil
	}

	// Throttle
	if loop.limiter != nil {
		if err := loop.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, 0, nil
			}
			return 0, 0, fmt.Errorf("rate limit: %w", err)
		}
	}

	// Receive a message
	message, err := loop.gateway.Receive(ctx, settings.LeasePeriod)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("receive: %w", err)
	} else if message == nil {
		return settings.EmptyQueuePollDelay, 0, nil
	}

	// Process the message
	pause, err = loop.process(ctx, settings, message)
	return 0, pause, err
}

func (loop *MessageLoop) process(ctx context.Context, settings schema.Settings, message *schema.Message) (pause time.Duration, err error) {
	if latency, ok := message.Latency(loop.now()); ok {
		loop.metrics.observeLatency(loop.name, latency)
	}

	ctx, endSpan := startSpan(loop.tracer, ctx, "message",
		attribute.String("queue", loop.name),
		attribute.String("id", message.Id),
		attribute.Int64("dequeue_count", int64(message.DequeueCount)),
	)
	defer func() { endSpan(err) }()

	// Race the handler against the lease renewer
	renewer := NewLeaseRenewer(loop.gateway, message, settings.LeasePeriod)
	outcome, renewal := race(ctx, func(ctx context.Context) schema.ProcessOutcome {
		return runHandler(ctx, loop.handler, message)
	}, renewer.Run)

	log := loop.log.With("queue", loop.name, "id", message.Id, "dequeue_count", message.DequeueCount)

	switch {
	case renewal.State == RenewLost:
		// The message may already belong to another consumer
		loop.metrics.countMessage(loop.name, ResultLost)
		log.Print(ctx, "lease lost: ", renewal.Err)
		return 0, nil
	case outcome.Success:
		// Delete with the latest receipt
		if err := loop.dispose(ctx, settings, func(ctx context.Context) error {
			return loop.gateway.Delete(ctx, message.Id, renewal.Receipt)
		}); err != nil {
			return 0, fmt.Errorf("delete: %w", err)
		}
		loop.metrics.countMessage(loop.name, ResultSuccess)
		log.Debug(ctx, "processed")
		return 0, nil
	case ctx.Err() != nil:
		// Shutdown interrupted the handler, leave the message for redelivery
		return 0, nil
	}

	// The handler failed
	log.With("error", outcome.Err.Error()).Print(ctx, "handler failed")
	if message.DequeueCount > settings.MaxDequeueCount {
		if err := loop.dispose(ctx, settings, func(ctx context.Context) error {
			if err := loop.gateway.SendToPoison(ctx, message.Body); err != nil {
				return fmt.Errorf("send to poison: %w", err)
			}
			return loop.gateway.Delete(ctx, message.Id, renewal.Receipt)
		}); err != nil {
			return outcome.Pause, fmt.Errorf("poison: %w", err)
		}
		loop.metrics.countMessage(loop.name, ResultPoison)
		log.Print(ctx, "moved to poison queue")
	} else {
		delay := Backoff(message.DequeueCount, settings.MessageErrorSleepPeriod)
		if err := loop.dispose(ctx, settings, func(ctx context.Context) error {
			_, err := loop.gateway.ExtendVisibility(ctx, message.Id, renewal.Receipt, delay)
			return err
		}); err != nil {
			return outcome.Pause, fmt.Errorf("backoff: %w", err)
		}
		loop.metrics.countMessage(loop.name, ResultRetry)
		log.With("delay", delay.String()).Debug(ctx, "retry scheduled")
	}

	// Return any pause the handler requested
	return outcome.Pause, nil
}

// dispose runs a gateway mutation which must complete even if the loop is
// being shut down
func (loop *MessageLoop) dispose(ctx context.Context, settings schema.Settings, fn func(context.Context) error) error {
	child, cancel := detach(ctx, settings.LeasePeriod)
	defer cancel()
	return fn(child)
}
