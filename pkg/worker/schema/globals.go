package schema

import (
	"encoding/json"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	SchemaName   = "pgworker"
	PoisonSuffix = "-poison"
	MaxBackoff   = 24 * time.Hour
)

// Default settings
const (
	DefaultLeasePeriod             = 30 * time.Second
	DefaultEmptyQueuePollDelay     = 5 * time.Second
	DefaultMaxDequeueCount         = 5
	DefaultMessageErrorSleepPeriod = 10 * time.Second
	DefaultLoopPeriod              = time.Minute
	DefaultLockLeasePeriod         = time.Minute
	DefaultCooldownPeriod          = 5 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func stringify[T any](v T) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// PoisonQueue returns the name of the poison queue for a queue
func PoisonQueue(queue string) string {
	return queue + PoisonSuffix
}
