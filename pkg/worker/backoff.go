package worker

import (
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Backoff returns the visibility timeout for a failed message:
// 2^max(dequeueCount-1, 0) * base, capped at schema.MaxBackoff.
// 1x,1x,2x,4x,8x...
func Backoff(dequeueCount uint64, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if base >= schema.MaxBackoff {
		return schema.MaxBackoff
	}

	// Exponent is floored at zero
	var exp uint64
	if dequeueCount > 1 {
		exp = dequeueCount - 1
	}

	// Double until the cap is reached
	delay := base
	for range exp {
		if delay > schema.MaxBackoff/2 {
			return schema.MaxBackoff
		}
		delay *= 2
	}
	return delay
}
