package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	sql "github.com/mutablelogic/go-pgworker/pkg/pgqueue/sql"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Client owns the queue, lock and settings tables in a schema
type Client struct {
	pool    *pgxpool.Pool
	schema  string
	queries *queries
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPool creates a connection pool to a PostgreSQL server
func NewPool(ctx context.Context, opts ...Opt) (*pgxpool.Pool, error) {
	o, err := apply(opts...)
	if err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(o.Encode())
	if err != nil {
		return nil, err
	}

	// Set the query tracer
	if o.tracer != nil {
		config.ConnConfig.Tracer = o.tracer

		// Output the connection parameters
		if o.tracer.TraceFn != nil {
			parts := map[string]string{}
			for _, part := range o.encode("password") {
				kv := strings.SplitN(part, "=", 2)
				parts[kv[0]] = kv[1]
			}
			o.tracer.TraceFn(ctx, "CONNECT", parts, nil)
		}
	}

	// Create the connection pool
	return pgxpool.NewWithConfig(ctx, config)
}

// New creates the schema objects if they do not exist and returns a client.
// Only the WithSchema option applies.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Opt) (*Client, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is nil", ErrBadParameter)
	}
	o, err := apply(opts...)
	if err != nil {
		return nil, err
	}

	// Parse the SQL
	queries, err := parseQueries(strings.NewReader(sql.Queries), o.schema)
	if err != nil {
		return nil, err
	}
	objects, err := parseQueries(strings.NewReader(sql.Objects), o.schema)
	if err != nil {
		return nil, err
	}

	// Create the objects in a transaction
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, key := range objects.Keys() {
			if _, err := tx.Exec(ctx, objects.Get(key)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Return success
	return &Client{
		pool:    pool,
		schema:  o.schema,
		queries: queries,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Schema returns the schema name
func (client *Client) Schema() string {
	return client.schema
}

// Queue returns the gateway for a named queue. Poisoned messages are sent
// to the queue named by schema.PoisonQueue.
func (client *Client) Queue(name string) *Queue {
	return &Queue{client: client, name: name}
}

// Locker returns the distributed lock provider
func (client *Client) Locker() *Locker {
	return &Locker{client: client}
}

// Status returns the number of visible and invisible messages in every
// queue which has messages
func (client *Client) Status(ctx context.Context) ([]schema.QueueStatus, error) {
	rows, err := client.pool.Query(ctx, client.queries.MustGet("message.status"))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.QueueStatus, error) {
		var status schema.QueueStatus
		err := row.Scan(&status.Queue, &status.State, &status.Count)
		return status, err
	})
}

// Purge deletes messages in a queue enqueued more than olderThan ago, and
// returns the number of messages deleted
func (client *Client) Purge(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("%w: queue is empty", ErrBadParameter)
	}
	tag, err := client.pool.Exec(ctx, client.queries.MustGet("message.purge"), pgx.NamedArgs{
		"queue":      queue,
		"older_than": max(olderThan, 0).Seconds(),
		"otelspan":   "pgworker.purge",
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// queryRow runs a statement which returns at most one row. Returns false
// when there is no row.
func (client *Client) queryRow(ctx context.Context, key string, args pgx.NamedArgs, dest ...any) (bool, error) {
	if err := client.pool.QueryRow(ctx, client.queries.MustGet(key), args).Scan(dest...); errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
