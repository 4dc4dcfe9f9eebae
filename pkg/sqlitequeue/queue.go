package sqlitequeue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is a named queue in the message table
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
	now := q.client.now()
	message := &schema.Message{
		Id:         uuid.NewString(),
		Body:       body,
		EnqueuedAt: &now,
		VisibleAt:  now.Add(max(delay, 0)),
	}
	if _, err := q.client.db.ExecContext(ctx, messageSend,
		sql.Named("id", message.Id),
		sql.Named("queue", q.name),
		sql.Named("body", message.Body),
		sql.Named("now", now.UnixMilli()),
		sql.Named("visible_at", message.VisibleAt.UnixMilli()),
	); err != nil {
		return nil, err
	}

	// Return success
	return message, nil
}

// Receive returns the oldest visible message, or nil. The message is made
// invisible for the visibility timeout and its dequeue count incremented.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*schema.Message, error) {
	now := q.client.now()
	message := schema.Message{
		Receipt: uuid.NewString(),
	}

	var enqueuedAt, visibleAt int64
	if found, err := q.client.queryRow(ctx, messageReceive, []any{
		sql.Named("queue", q.name),
		sql.Named("receipt", message.Receipt),
		sql.Named("now", now.UnixMilli()),
		sql.Named("visible_at", now.Add(visibility).UnixMilli()),
	}, &message.Id, &message.Body, &message.DequeueCount, &enqueuedAt, &visibleAt); err != nil {
		return nil, err
	} else if !found {
		return nil, nil
	}
	enqueued := time.UnixMilli(enqueuedAt)
	message.EnqueuedAt = &enqueued
	message.VisibleAt = time.UnixMilli(visibleAt)

	// Return the message
	return &message, nil
}

// ExtendVisibility makes the message invisible for the visibility timeout
// from now, and returns a new receipt
func (q *Queue) ExtendVisibility(ctx context.Context, id, receipt string, visibility time.Duration) (string, error) {
	var result string
	if found, err := q.client.queryRow(ctx, messageExtend, []any{
		sql.Named("queue", q.name),
		sql.Named("id", id),
		sql.Named("receipt", receipt),
		sql.Named("new_receipt", uuid.NewString()),
		sql.Named("visible_at", q.client.now().Add(max(visibility, 0)).UnixMilli()),
	}, &result); err != nil {
		return "", err
	} else if !found {
		return "", fmt.Errorf("%w: %q", schema.ErrLeaseLost, id)
	}

	// Return the new receipt
	return result, nil
}

// Delete removes a message
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	var result string
	if found, err := q.client.queryRow(ctx, messageDelete, []any{
		sql.Named("queue", q.name),
		sql.Named("id", id),
		sql.Named("receipt", receipt),
	}, &result); err != nil {
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
