package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	// Packages
	_ "github.com/mattn/go-sqlite3"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Client owns the queue and lock tables in a SQLite database file
type Client struct {
	opts
	db *sql.DB
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	driverName = "sqlite3"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Open opens or creates the database at path, and creates the tables if
// they do not exist
func Open(ctx context.Context, path string, opt ...Opt) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrBadParameter)
	}
	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}

	// Open the database. There is a single connection, so writes are
	// serialized by the pool.
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(o.busyTimeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	db, err := sql.Open(driverName, "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	// Create the objects
	if _, err := db.ExecContext(ctx, createObjects); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	// Return success
	return &Client{opts: o, db: db}, nil
}

// Close closes the database
func (client *Client) Close() error {
	return client.db.Close()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

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
	rows, err := client.db.QueryContext(ctx, messageStatus, sql.Named("now", client.now().UnixMilli()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schema.QueueStatus
	for rows.Next() {
		var status schema.QueueStatus
		if err := rows.Scan(&status.Queue, &status.State, &status.Count); err != nil {
			return nil, err
		}
		result = append(result, status)
	}
	return result, rows.Err()
}

// Purge deletes messages in a queue enqueued more than olderThan ago, and
// returns the number of messages deleted
func (client *Client) Purge(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("%w: queue is empty", ErrBadParameter)
	}
	result, err := client.db.ExecContext(ctx, messagePurge,
		sql.Named("queue", queue),
		sql.Named("before", client.now().Add(-max(olderThan, 0)).UnixMilli()),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// queryRow runs a statement which returns at most one row. Returns false
// when there is no row.
func (client *Client) queryRow(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	if err := client.db.QueryRowContext(ctx, query, args...).Scan(dest...); errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
