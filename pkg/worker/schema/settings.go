package schema

import (
	"errors"
	"fmt"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Settings are read fresh on every loop iteration, so operators can tune
// a running worker without a restart.
type Settings struct {
	// Message loop
	LeasePeriod             time.Duration `json:"leasePeriod" help:"Message visibility timeout while processing"`
	EmptyQueuePollDelay     time.Duration `json:"emptyQueuePollDelay" help:"Sleep when the queue is empty"`
	MaxDequeueCount         uint64        `json:"maxDequeueCount" help:"Attempts before a message is poisoned"`
	MessageErrorSleepPeriod time.Duration `json:"messageErrorSleepPeriod" help:"Backoff unit and loop error sleep"`

	// Periodic runner
	LoopPeriod      time.Duration `json:"loopPeriod" help:"Period between lock attempts"`
	LockLeasePeriod time.Duration `json:"lockLeasePeriod" help:"Lock time-to-live while working"`
	CooldownPeriod  time.Duration `json:"cooldownPeriod" help:"Lock time-to-live after success"`

	// Both
	Enabled bool `json:"enabled"`
}

// SettingsMeta is a partial update of settings. Nil fields are unchanged.
type SettingsMeta struct {
	LeasePeriod             *time.Duration `json:"leasePeriod,omitempty"`
	EmptyQueuePollDelay     *time.Duration `json:"emptyQueuePollDelay,omitempty"`
	MaxDequeueCount         *uint64        `json:"maxDequeueCount,omitempty"`
	MessageErrorSleepPeriod *time.Duration `json:"messageErrorSleepPeriod,omitempty"`
	LoopPeriod              *time.Duration `json:"loopPeriod,omitempty"`
	LockLeasePeriod         *time.Duration `json:"lockLeasePeriod,omitempty"`
	CooldownPeriod          *time.Duration `json:"cooldownPeriod,omitempty"`
	Enabled                 *bool          `json:"enabled,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return Settings{
		LeasePeriod:             DefaultLeasePeriod,
		EmptyQueuePollDelay:     DefaultEmptyQueuePollDelay,
		MaxDequeueCount:         DefaultMaxDequeueCount,
		MessageErrorSleepPeriod: DefaultMessageErrorSleepPeriod,
		LoopPeriod:              DefaultLoopPeriod,
		LockLeasePeriod:         DefaultLockLeasePeriod,
		CooldownPeriod:          DefaultCooldownPeriod,
		Enabled:                 true,
	}
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s Settings) String() string {
	return stringify(s)
}

func (s SettingsMeta) String() string {
	return stringify(s)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Validate checks the message loop settings
func (s Settings) Validate() error {
	var result error
	if s.LeasePeriod <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: leasePeriod must be positive", ErrInvalidSettings))
	}
	if s.EmptyQueuePollDelay <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: emptyQueuePollDelay must be positive", ErrInvalidSettings))
	}
	if s.MaxDequeueCount == 0 {
		result = errors.Join(result, fmt.Errorf("%w: maxDequeueCount must be at least 1", ErrInvalidSettings))
	}
	if s.MessageErrorSleepPeriod <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: messageErrorSleepPeriod must be positive", ErrInvalidSettings))
	}
	return result
}

// ValidatePeriodic checks the periodic runner settings. The lock lease must
// be shorter than the cooldown so that a crashed holder's lock expires
// before the next run is due.
func (s Settings) ValidatePeriodic() error {
	var result error
	if s.LoopPeriod <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: loopPeriod must be positive", ErrInvalidSettings))
	}
	if s.LockLeasePeriod <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: lockLeasePeriod must be positive", ErrInvalidSettings))
	}
	if s.CooldownPeriod <= 0 {
		result = errors.Join(result, fmt.Errorf("%w: cooldownPeriod must be positive", ErrInvalidSettings))
	} else if s.LockLeasePeriod >= s.CooldownPeriod {
		result = errors.Join(result, fmt.Errorf("%w: lockLeasePeriod must be shorter than cooldownPeriod", ErrInvalidSettings))
	}
	return result
}

// Apply returns a copy of the settings with the non-nil fields of meta set
func (s Settings) Apply(meta SettingsMeta) Settings {
	if meta.LeasePeriod != nil {
		s.LeasePeriod = *meta.LeasePeriod
	}
	if meta.EmptyQueuePollDelay != nil {
		s.EmptyQueuePollDelay = *meta.EmptyQueuePollDelay
	}
	if meta.MaxDequeueCount != nil {
		s.MaxDequeueCount = *meta.MaxDequeueCount
	}
	if meta.MessageErrorSleepPeriod != nil {
		s.MessageErrorSleepPeriod = *meta.MessageErrorSleepPeriod
	}
	if meta.LoopPeriod != nil {
		s.LoopPeriod = *meta.LoopPeriod
	}
	if meta.LockLeasePeriod != nil {
		s.LockLeasePeriod = *meta.LockLeasePeriod
	}
	if meta.CooldownPeriod != nil {
		s.CooldownPeriod = *meta.CooldownPeriod
	}
	if meta.Enabled != nil {
		s.Enabled = *meta.Enabled
	}
	return s
}
