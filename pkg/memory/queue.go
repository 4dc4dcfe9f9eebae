package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queue is an in-process queue with visibility timeouts. Messages sent to
// poison are added to a second queue, returned by Poison.
type Queue struct {
	opts
	mu       sync.Mutex
	name     string
	messages []*schema.Message
	poison   *Queue
}

var _ worker.Gateway = (*Queue)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewQueue returns an empty queue
func NewQueue(name string, opt ...Opt) *Queue {
	o := applyOpts(opt)
	return &Queue{
		opts: o,
		name: name,
		poison: &Queue{
			opts: o,
			name: schema.PoisonQueue(name),
		},
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Poison returns the poison queue
func (q *Queue) Poison() *Queue {
	return q.poison
}

// Send adds a message which becomes visible after delay
func (q *Queue) Send(_ context.Context, body []byte, delay time.Duration) (*schema.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	message := &schema.Message{
		Id:         uuid.NewString(),
		Body:       slices.Clone(body),
		EnqueuedAt: &now,
		VisibleAt:  now.Add(max(delay, 0)),
	}
	q.messages = append(q.messages, message)

	// Return a copy
	return clone(message), nil
}

// Receive returns the oldest visible message, or nil. The message is made
// invisible for the visibility timeout and its dequeue count incremented.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, message := range q.messages {
		if message.VisibleAt.After(now) {
			continue
		}
		message.Receipt = uuid.NewString()
		message.DequeueCount++
		message.VisibleAt = now.Add(visibility)
		return clone(message), nil
	}

	// No visible message
	return nil, nil
}

// ExtendVisibility makes the message invisible for the visibility timeout
// from now, and returns a new receipt
func (q *Queue) ExtendVisibility(ctx context.Context, id, receipt string, visibility time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	message, err := q.leased(id, receipt)
	if err != nil {
		return "", err
	}
	message.Receipt = uuid.NewString()
	message.VisibleAt = q.now().Add(visibility)

	// Return the new receipt
	return message.Receipt, nil
}

// Delete removes a message
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.leased(id, receipt); err != nil {
		return err
	}
	q.messages = slices.DeleteFunc(q.messages, func(m *schema.Message) bool {
		return m.Id == id
	})

	// Return success
	return nil
}

// SendToPoison adds body to the poison queue
func (q *Queue) SendToPoison(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.poison == nil {
		return fmt.Errorf("%q has no poison queue", q.name)
	}
	_, err := q.poison.Send(ctx, body, 0)
	return err
}

// Get returns a copy of a message by id
func (q *Queue) Get(id string) (*schema.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, message := range q.messages {
		if message.Id == id {
			return clone(message), true
		}
	}
	return nil, false
}

// Len returns the number of messages, visible or not
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Bodies returns the message bodies in order
func (q *Queue) Bodies() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([][]byte, 0, len(q.messages))
	for _, message := range q.messages {
		result = append(result, slices.Clone(message.Body))
	}
	return result
}

// Status returns the number of visible and invisible messages in the queue
// and its poison queue
func (q *Queue) Status(ctx context.Context) ([]schema.QueueStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := q.status()
	if q.poison != nil {
		result = append(result, q.poison.status()...)
	}
	return result, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// leased returns the message if the receipt is current. Call with the
// mutex held.
func (q *Queue) leased(id, receipt string) (*schema.Message, error) {
	for _, message := range q.messages {
		if message.Id != id {
			continue
		}
		if message.Receipt == "" || message.Receipt != receipt {
			return nil, fmt.Errorf("%w: %q", schema.ErrLeaseLost, id)
		}
		return message, nil
	}
	return nil, fmt.Errorf("%w: %q not found", schema.ErrLeaseLost, id)
}

func (q *Queue) status() []schema.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	visible := schema.QueueStatus{Queue: q.name, State: schema.StateVisible}
	invisible := schema.QueueStatus{Queue: q.name, State: schema.StateInvisible}
	for _, message := range q.messages {
		if message.VisibleAt.After(now) {
			invisible.Count++
		} else {
			visible.Count++
		}
	}
	return []schema.QueueStatus{visible, invisible}
}

func clone(message *schema.Message) *schema.Message {
	result := *message
	result.Body = slices.Clone(message.Body)
	if message.EnqueuedAt != nil {
		t := *message.EnqueuedAt
		result.EnqueuedAt = &t
	}
	return &result
}
