package worker

import (
	"context"
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// LockRenewer keeps a distributed lock alive while periodic work runs
type LockRenewer struct {
	lock  Lock
	lease time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewLockRenewer returns a renewer which extends lock by lease every half
// lease period
func NewLockRenewer(lock Lock, lease time.Duration) *LockRenewer {
	return &LockRenewer{
		lock:  lock,
		lease: lease,
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Run extends the lock until the context is cancelled (RenewCancelled) or
// the lock is lost (RenewLost)
func (r *LockRenewer) Run(ctx context.Context) (result Renewal) {
	defer func() {
		if rec := recover(); rec != nil {
			result.State = RenewLost
			result.Err = fmt.Errorf("panic: %v", rec)
		}
	}()

	timer := time.NewTimer(r.lease / 2)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			result.State = RenewCancelled
			return result
		case <-timer.C:
		}

		// Extend the lock
		if ok, err := r.extend(ctx); err != nil {
			result.State = RenewLost
			result.Err = err
			return result
		} else if !ok {
			result.State = RenewLost
			result.Err = fmt.Errorf("%w: %q", schema.ErrLockLost, r.lock.Name())
			return result
		}
		result.Renewals++

		timer.Reset(r.lease / 2)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (r *LockRenewer) extend(ctx context.Context) (bool, error) {
	child, cancel := detach(ctx, r.lease/2)
	defer cancel()
	return r.lock.Extend(child, r.lease)
}
