package sqlitequeue

import (
	"errors"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a functional option for a client
type Opt func(*opts) error

type opts struct {
	now         func() time.Time
	busyTimeout time.Duration
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	defaultBusyTimeout = 5 * time.Second
)

var (
	ErrBadParameter = errors.New("bad parameter")
)

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithClock sets the function used to read the current time. Visibility
// timeouts and lock expiry are compared with this clock.
func WithClock(fn func() time.Time) Opt {
	return func(o *opts) error {
		if fn == nil {
			return errors.Join(ErrBadParameter, errors.New("clock is nil"))
		}
		o.now = fn
		return nil
	}
}

// WithBusyTimeout sets how long a statement waits for a locked database
func WithBusyTimeout(d time.Duration) Opt {
	return func(o *opts) error {
		if d < 0 {
			return errors.Join(ErrBadParameter, errors.New("negative busy timeout"))
		}
		o.busyTimeout = d
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func applyOpts(opt []Opt) (opts, error) {
	o := opts{
		now:         time.Now,
		busyTimeout: defaultBusyTimeout,
	}
	for _, fn := range opt {
		if err := fn(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}
