package pgqueue

import (
	"context"
	"sync/atomic"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Locker is a distributed lock provider backed by the lock table. Expiry
// is compared with the server clock.
type Locker struct {
	client *Client
}

type lockHandle struct {
	client  *Client
	name    string
	owner   uuid.UUID
	release atomic.Bool
}

var _ worker.Locker = (*Locker)(nil)
var _ worker.Lock = (*lockHandle)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCKER

// Acquire returns a lock handle, or nil if the lock is held elsewhere and
// has not expired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (worker.Lock, error) {
	owner := uuid.New()

	var result uuid.UUID
	if found, err := l.client.queryRow(ctx, "lock.acquire", pgx.NamedArgs{
		"name":     name,
		"owner":    owner,
		"ttl":      ttl.Seconds(),
		"otelspan": "pgworker.lock.acquire",
	}, &result); err != nil {
		return nil, err
	} else if !found {
		return nil, nil
	}

	// Return the handle
	handle := &lockHandle{
		client: l.client,
		name:   name,
		owner:  owner,
	}
	handle.release.Store(true)
	return handle, nil
}

// ExpiresAt returns the expiry of a held lock, or false if the lock is not
// held
func (l *Locker) ExpiresAt(ctx context.Context, name string) (time.Time, bool, error) {
	var owner uuid.UUID
	var expiresAt time.Time
	found, err := l.client.queryRow(ctx, "lock.get", pgx.NamedArgs{
		"name": name,
	}, &owner, &expiresAt)
	return expiresAt, found, err
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCK

func (lock *lockHandle) Name() string {
	return lock.name
}

// Extend sets the expiry to ttl from now. Returns false if the lock has
// expired or is owned by someone else.
func (lock *lockHandle) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	var expiresAt time.Time
	return lock.client.queryRow(ctx, "lock.extend", pgx.NamedArgs{
		"name":     lock.name,
		"owner":    lock.owner,
		"ttl":      ttl.Seconds(),
		"otelspan": "pgworker.lock.extend",
	}, &expiresAt)
}

// Release deletes the lock if it is still owned
func (lock *lockHandle) Release(ctx context.Context) error {
	_, err := lock.client.pool.Exec(ctx, lock.client.queries.MustGet("lock.release"), pgx.NamedArgs{
		"name":     lock.name,
		"owner":    lock.owner,
		"otelspan": "pgworker.lock.release",
	})
	return err
}

func (lock *lockHandle) SetReleaseOnClose(release bool) {
	lock.release.Store(release)
}

func (lock *lockHandle) ReleaseOnClose() bool {
	return lock.release.Load()
}

// Close releases the lock unless release on close has been turned off, in
// which case the lock is left to expire
func (lock *lockHandle) Close(ctx context.Context) error {
	if !lock.ReleaseOnClose() {
		return nil
	}
	return lock.Release(ctx)
}
