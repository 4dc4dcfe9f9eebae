package pgqueue

import (
	"context"
	"fmt"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is a named queue in the message table. Visibility timeouts are
// enforced by the server clock.
type Queue struct {
	client *Client
	name   string
}

var _ worker.Gateway = (*Queue)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Send adds a message which becomes visible after delay
func (q *Queue) Send(ctx context.Context, body []byte, delay time.Duration) (*schema.Message, error) {
	if body == nil {
		body = []byte{}
	}

	var message schema.Message
	var id uuid.UUID
	var enqueuedAt time.Time
	if _, err := q.client.queryRow(ctx, "message.send", pgx.NamedArgs{
		"id":       uuid.New(),
		"queue":    q.name,
		"body":     body,
		"delay":    max(delay, 0).Seconds(),
		"otelspan": "pgworker.send",
	}, &id, &message.Body, &message.DequeueCount, &enqueuedAt, &message.VisibleAt); err != nil {
		return nil, err
	}
	message.Id = id.String()
	message.EnqueuedAt = &enqueuedAt

	// Return success
	return &message, nil
}

// Receive returns the oldest visible message, or nil. The message is made
// invisible for the visibility timeout and its dequeue count incremented.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*schema.Message, error) {
	var message schema.Message
	var id, receipt uuid.UUID
	var enqueuedAt time.Time
	if found, err := q.client.queryRow(ctx, "message.receive", pgx.NamedArgs{
		"queue":      q.name,
		"receipt":    uuid.New(),
		"visibility": visibility.Seconds(),
		"otelspan":   "pgworker.receive",
	}, &id, &receipt, &message.Body, &message.DequeueCount, &enqueuedAt, &message.VisibleAt); err != nil {
		return nil, err
	} else if !found {
		return nil, nil
	}
	message.Id = id.String()
	message.Receipt = receipt.String()
	message.EnqueuedAt = &enqueuedAt

	// Return the message
	return &message, nil
}

// ExtendVisibility makes the message invisible for the visibility timeout
// from now, and returns a new receipt
func (q *Queue) ExtendVisibility(ctx context.Context, id, receipt string, visibility time.Duration) (string, error) {
	args, err := leaseArgs(id, receipt)
	if err != nil {
		return "", err
	}
	args["queue"] = q.name
	args["new_receipt"] = uuid.New()
	args["visibility"] = max(visibility, 0).Seconds()
	args["otelspan"] = "pgworker.extend"

	var result uuid.UUID
	if found, err := q.client.queryRow(ctx, "message.extend", args, &result); err != nil {
		return "", err
	} else if !found {
		return "", fmt.Errorf("%w: %q", schema.ErrLeaseLost, id)
	}

	// Return the new receipt
	return result.String(), nil
}

// Delete removes a message
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	args, err := leaseArgs(id, receipt)
	if err != nil {
		return err
	}
	args["queue"] = q.name
	args["otelspan"] = "pgworker.delete"

	var result uuid.UUID
	if found, err := q.client.queryRow(ctx, "message.delete", args, &result); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %q", schema.ErrLeaseLost, id)
	}

	// Return success
	return nil
}

// SendToPoison adds body to the poison queue
func (q *Queue) SendToPoison(ctx context.Context, body []byte) error {
	_, err := q.client.Queue(schema.PoisonQueue(q.name)).Send(ctx, body, 0)
	return err
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// leaseArgs parses the message id and receipt. A receipt which is not a
// UUID can never match, so is reported as a lost lease.
func leaseArgs(id, receipt string) (pgx.NamedArgs, error) {
	id_, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid message id %q", ErrBadParameter, id)
	}
	receipt_, err := uuid.Parse(receipt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", schema.ErrLeaseLost, id)
	}
	return pgx.NamedArgs{
		"id":      id_,
		"receipt": receipt_,
	}, nil
}
