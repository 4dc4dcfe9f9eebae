package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Handler processes one message. Return nil on success, an error to retry
// the message with backoff, or an error created with schema.Pause to also
// pause the whole loop.
type Handler func(context.Context, *schema.Message) error

// Job is the unit of work for a periodic runner.
type Job func(context.Context) error

// Gateway is the queue the message loop consumes from. Receive returns nil
// when no message is visible. ExtendVisibility returns the new receipt; the
// old receipt becomes invalid. Operations on a stale receipt return an
// error wrapping schema.ErrLeaseLost.
type Gateway interface {
	Receive(ctx context.Context, visibility time.Duration) (*schema.Message, error)
	ExtendVisibility(ctx context.Context, id, receipt string, visibility time.Duration) (string, error)
	Delete(ctx context.Context, id, receipt string) error
	SendToPoison(ctx context.Context, body []byte) error
}

// Locker is a distributed lock provider. Acquire returns nil when the lock
// is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// Lock is a scoped handle on an acquired lock. Close releases the lock
// unless SetReleaseOnClose(false) was called, in which case the lock is
// left to expire.
type Lock interface {
	Name() string
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
	SetReleaseOnClose(bool)
	ReleaseOnClose() bool
	Close(ctx context.Context) error
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// runHandler runs the handler and converts the result, including panics,
// into an outcome
func runHandler(ctx context.Context, handler Handler, message *schema.Message) schema.ProcessOutcome {
	err := runWork(ctx, func(ctx context.Context) error {
		return handler(ctx, message)
	})
	return schema.ProcessOutcome{
		Success: err == nil,
		Pause:   schema.PauseDuration(err),
		Err:     err,
	}
}

// runWork executes work with panic recovery. A cancelled context is
// reported as a failure even if the work returned nil.
func runWork(ctx context.Context, fn func(context.Context) error) (errs error) {
	// Catch panics
	defer func() {
		if r := recover(); r != nil {
			errs = errors.Join(errs, fmt.Errorf("panic: %v", r))
		}
	}()

	// Run the work function
	if err := fn(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	// Include context error if not already present
	if ctx.Err() != nil && !errors.Is(errs, ctx.Err()) {
		errs = errors.Join(errs, ctx.Err())
	}

	return errs
}
