/*
Package pgqueue implements the queue gateway, distributed lock provider and
settings provider for the worker package on PostgreSQL.

Create a pool and a client, which creates the schema if it does not exist:

	pool, err := pgqueue.NewPool(ctx, pgqueue.WithURL("postgres://localhost/postgres"))
	client, err := pgqueue.New(ctx, pool, pgqueue.WithSchema("pgworker"))

Then use the client to create the collaborators for a message loop or
periodic runner:

	loop, err := worker.NewMessageLoop("emails", client.Queue("emails"), handler,
		client.SettingsProvider("emails", schema.DefaultSettings()))
	runner, err := worker.NewPeriodicRunner("cleanup", client.Locker(), job,
		client.SettingsProvider("cleanup", schema.DefaultSettings()))

Messages are received with FOR UPDATE SKIP LOCKED so any number of
consumers can share a queue. Visibility timeouts and lock expiry use the
server clock.
*/
package pgqueue
