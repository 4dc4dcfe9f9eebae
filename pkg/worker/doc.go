/*
Package worker provides an at-least-once queue consumer with lease renewal,
exponential backoff and poison queue escalation, and a periodic job runner
which uses a distributed lock so that only one process runs a job per
cooldown period.

# Message Loop

A message loop receives one message at a time from a Gateway, and races
the handler against a lease renewer which keeps the message invisible to
other consumers:

	loop, err := worker.NewMessageLoop("emails", gateway, func(ctx context.Context, msg *schema.Message) error {
		// Process msg.Body
		return nil
	}, worker.Static(schema.DefaultSettings()))

	// Run blocks until context is cancelled
	err = loop.Run(ctx)

On success the message is deleted. On failure the message is made
invisible for 2^max(dequeueCount-1,0) * messageErrorSleepPeriod, or moved
to the poison queue once the dequeue count exceeds maxDequeueCount. A
handler can pause the whole loop by returning schema.Pause:

	return schema.Pause(time.Minute, errors.New("throttled"))

# Periodic Runner

A periodic runner acquires a named lock, runs the job while renewing the
lock, and on success extends the lock into the cooldown period instead of
releasing it:

	runner, err := worker.NewPeriodicRunner("cleanup", locker, func(ctx context.Context) error {
		return nil
	}, settings)
	err = runner.Run(ctx)

# Settings

Settings are read on every iteration from a SettingsProvider, so a
SettingsValue or a database-backed provider can change them while the
loops are running.

# Backends

  - memory: in-process gateway and locker
  - pgqueue: PostgreSQL gateway, locker and settings
  - sqlitequeue: SQLite gateway and locker
  - redislock: redis locker
*/
package worker
