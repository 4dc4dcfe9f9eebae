package schema

import (
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Message is a snapshot of a received queue message. The gateway owns the
// message itself; Receipt is the lease token and is superseded on every
// renewal.
type Message struct {
	Id           string     `json:"id"`
	Receipt      string     `json:"receipt,omitempty"`
	Body         []byte     `json:"body,omitempty"`
	DequeueCount uint64     `json:"dequeue_count"`
	EnqueuedAt   *time.Time `json:"enqueued_at,omitempty"`
	VisibleAt    time.Time  `json:"visible_at,omitzero"`
}

// ProcessOutcome is the result of running a unit of work
type ProcessOutcome struct {
	Success bool          `json:"success"`
	Pause   time.Duration `json:"pause,omitempty"`
	Err     error         `json:"-"`
}

// QueueStatus is the number of messages in a queue by state
type QueueStatus struct {
	Queue string `json:"queue"`
	State string `json:"state"`
	Count uint64 `json:"count"`
}

// Message states reported by QueueStatus
const (
	StateVisible   = "visible"
	StateInvisible = "invisible"
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (m Message) String() string {
	return stringify(m)
}

func (o ProcessOutcome) String() string {
	return stringify(o)
}

func (s QueueStatus) String() string {
	return stringify(s)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Latency returns the time since the message was enqueued, and false if
// the enqueue time is unknown
func (m Message) Latency(now time.Time) (time.Duration, bool) {
	if m.EnqueuedAt == nil || m.EnqueuedAt.IsZero() {
		return 0, false
	}
	if d := now.Sub(*m.EnqueuedAt); d > 0 {
		return d, true
	}
	return 0, true
}
