package schema

import (
	"errors"
	"fmt"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// ERRORS

var (
	ErrLeaseLost       = errors.New("lease lost")
	ErrLockLost        = errors.New("lock lost")
	ErrInvalidSettings = errors.New("invalid settings")
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PauseError is returned by a handler to pause the whole loop for Duration,
// typically because a downstream system is throttling.
type PauseError struct {
	Duration time.Duration
	Err      error
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Pause returns an error requesting that processing pauses for d
func Pause(d time.Duration, err error) error {
	return &PauseError{Duration: d, Err: err}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e *PauseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pause processing for %v", e.Duration)
	}
	return fmt.Sprintf("pause processing for %v: %v", e.Duration, e.Err)
}

func (e *PauseError) Unwrap() error {
	return e.Err
}

// PauseDuration returns the pause requested by err, or zero
func PauseDuration(err error) time.Duration {
	var pause *PauseError
	if errors.As(err, &pause) && pause.Duration > 0 {
		return pause.Duration
	}
	return 0
}
