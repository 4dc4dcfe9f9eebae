package memory

import (
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for in-memory queues and lockers
type Opt func(*opts)

type opts struct {
	now func() time.Time
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithClock sets the function used to read the current time
func WithClock(fn func() time.Time) Opt {
	return func(o *opts) {
		if fn != nil {
			o.now = fn
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) opts {
	o := opts{now: time.Now}
	for _, fn := range opt {
		fn(&o)
	}
	return o
}
