package sqlitequeue

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Locker is a lock provider backed by the lock table. Locks are shared by
// every process which opens the same database file.
type Locker struct {
	client *Client
}

type lockHandle struct {
	client  *Client
	name    string
	owner   string
	release atomic.Bool
}

var _ worker.Locker = (*Locker)(nil)
var _ worker.Lock = (*lockHandle)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCKER

// Acquire returns a lock handle, or nil if the lock is held elsewhere and
// has not expired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (worker.Lock, error) {
	now := l.client.now()
	owner := uuid.NewString()

	var result string
	if found, err := l.client.queryRow(ctx, lockAcquire, []any{
		sql.Named("name", name),
		sql.Named("owner", owner),
		sql.Named("now", now.UnixMilli()),
		sql.Named("expires_at", now.Add(ttl).UnixMilli()),
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
	var expiresAt int64
	found, err := l.client.queryRow(ctx, lockGet, []any{
		sql.Named("name", name),
		sql.Named("now", l.client.now().UnixMilli()),
	}, &expiresAt)
	if !found || err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(expiresAt), true, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCK

func (lock *lockHandle) Name() string {
	return lock.name
}

// Extend sets the expiry to ttl from now. Returns false if the lock has
// expired or is owned by someone else.
func (lock *lockHandle) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	now := lock.client.now()

	var expiresAt int64
	return lock.client.queryRow(ctx, lockExtend, []any{
		sql.Named("name", lock.name),
		sql.Named("owner", lock.owner),
		sql.Named("now", now.UnixMilli()),
		sql.Named("expires_at", now.Add(ttl).UnixMilli()),
	}, &expiresAt)
}

// Release deletes the lock if it is still owned
func (lock *lockHandle) Release(ctx context.Context) error {
	_, err := lock.client.db.ExecContext(ctx, lockRelease,
		sql.Named("name", lock.name),
		sql.Named("owner", lock.owner),
	)
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
