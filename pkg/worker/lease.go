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

// RenewState is how a renewer stopped
type RenewState uint

// Renewal is the result of a lease or lock renewer. Receipt is the latest
// lease token (empty for locks) and is only meaningful when the state is
// RenewCancelled.
type Renewal struct {
	State    RenewState
	Receipt  string
	Renewals uint
	Err      error
}

// LeaseRenewer keeps a received message invisible while it is processed
type LeaseRenewer struct {
	gateway Gateway
	id      string
	receipt string
	lease   time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Stopped because the sibling activity finished first
	RenewCancelled RenewState = iota

	// An extension failed, the lease or lock is no longer held
	RenewLost
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewLeaseRenewer returns a renewer for a received message. The lease period
// should be the visibility timeout the message was received with.
func NewLeaseRenewer(gateway Gateway, message *schema.Message, lease time.Duration) *LeaseRenewer {
	return &LeaseRenewer{
		gateway: gateway,
		id:      message.Id,
		receipt: message.Receipt,
		lease:   lease,
	}
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s RenewState) String() string {
	switch s {
	case RenewCancelled:
		return "cancelled"
	case RenewLost:
		return "lost"
	default:
		return "unknown"
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Run waits half the lease period then extends visibility, until the context
// is cancelled or an extension fails. An extension already in flight when
// the context is cancelled is allowed to complete, so the receipt returned
// is never older than the one the gateway holds.
func (r *LeaseRenewer) Run(ctx context.Context) (result Renewal) {
	result.Receipt = r.receipt

	// A panicking gateway means the lease can't be trusted
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

		// Extend the lease
		receipt, err := r.extend(ctx, result.Receipt)
		if err != nil {
			result.State = RenewLost
			result.Err = err
			return result
		}
		result.Receipt = receipt
		result.Renewals++

		timer.Reset(r.lease / 2)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (r *LeaseRenewer) extend(ctx context.Context, receipt string) (string, error) {
	child, cancel := detach(ctx, r.lease/2)
	defer cancel()
	return r.gateway.ExtendVisibility(child, r.id, receipt, r.lease)
}
