package pgqueue

import (
	"context"
	"fmt"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// SettingsProvider reads settings for a queue or job from the settings
// table on every call. Columns which are NULL, or a missing row, fall back
// to the defaults.
type SettingsProvider struct {
	client   *Client
	queue    string
	defaults schema.Settings
}

var _ worker.SettingsProvider = (*SettingsProvider)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// SettingsProvider returns a provider for the named queue or job
func (client *Client) SettingsProvider(queue string, defaults schema.Settings) *SettingsProvider {
	return &SettingsProvider{
		client:   client,
		queue:    queue,
		defaults: defaults,
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Settings returns the current settings
func (s *SettingsProvider) Settings(ctx context.Context) (schema.Settings, error) {
	return s.client.GetSettings(ctx, s.queue, s.defaults)
}

// GetSettings returns the stored settings for a queue or job, applied over
// the defaults
func (client *Client) GetSettings(ctx context.Context, queue string, defaults schema.Settings) (schema.Settings, error) {
	var meta schema.SettingsMeta
	if _, err := client.queryRow(ctx, "settings.get", pgx.NamedArgs{
		"queue":    queue,
		"otelspan": "pgworker.settings.get",
	},
		&meta.LeasePeriod, &meta.EmptyQueuePollDelay, &meta.MaxDequeueCount, &meta.MessageErrorSleepPeriod,
		&meta.LoopPeriod, &meta.LockLeasePeriod, &meta.CooldownPeriod, &meta.Enabled,
	); err != nil {
		return schema.Settings{}, err
	}

	// Return the settings
	return defaults.Apply(meta), nil
}

// SetSettings updates the non-nil fields for a queue or job. Other fields
// keep their stored values.
func (client *Client) SetSettings(ctx context.Context, queue string, meta schema.SettingsMeta) error {
	if queue == "" {
		return fmt.Errorf("%w: queue is empty", ErrBadParameter)
	}
	_, err := client.pool.Exec(ctx, client.queries.MustGet("settings.set"), pgx.NamedArgs{
		"queue":                      queue,
		"lease_period":               meta.LeasePeriod,
		"empty_queue_poll_delay":     meta.EmptyQueuePollDelay,
		"max_dequeue_count":          meta.MaxDequeueCount,
		"message_error_sleep_period": meta.MessageErrorSleepPeriod,
		"loop_period":                meta.LoopPeriod,
		"lock_lease_period":          meta.LockLeasePeriod,
		"cooldown_period":            meta.CooldownPeriod,
		"enabled":                    meta.Enabled,
		"otelspan":                   "pgworker.settings.set",
	})
	return err
}
