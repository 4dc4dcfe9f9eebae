package redislock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	// Packages
	redis "github.com/go-redis/redis/v8"
	uuid "github.com/google/uuid"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Locker is a distributed lock provider on a redis key per lock. The key
// holds the owner token and expires with the lock.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

type lockHandle struct {
	locker  *Locker
	name    string
	owner   string
	release atomic.Bool
}

var _ worker.Locker = (*Locker)(nil)
var _ worker.Lock = (*lockHandle)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	ErrBadParameter = errors.New("bad parameter")
)

var (
	// Set the expiry if the key is still owned
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	// Delete the key if it is still owned
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New returns a locker. Keys are the lock name with prefix prepended,
// which defaults to "pgworker:lock:" when empty.
func New(client redis.UniversalClient, prefix string) (*Locker, error) {
	if client == nil {
		return nil, errors.Join(ErrBadParameter, errors.New("client is nil"))
	}
	if prefix == "" {
		prefix = schema.SchemaName + ":lock:"
	}
	return &Locker{client: client, prefix: prefix}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCKER

// Acquire returns a lock handle, or nil if the lock is held elsewhere
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (worker.Lock, error) {
	owner := uuid.NewString()
	if ok, err := l.client.SetNX(ctx, l.key(name), owner, ttlOf(ttl)).Result(); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}

	// Return the handle
	handle := &lockHandle{
		locker: l,
		name:   name,
		owner:  owner,
	}
	handle.release.Store(true)
	return handle, nil
}

// ExpiresAt returns the expiry of a held lock, or false if the lock is not
// held
func (l *Locker) ExpiresAt(ctx context.Context, name string) (time.Time, bool, error) {
	ttl, err := l.client.PTTL(ctx, l.key(name)).Result()
	if err != nil {
		return time.Time{}, false, err
	} else if ttl <= 0 {
		return time.Time{}, false, nil
	}
	return time.Now().Add(ttl), true, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCK

func (lock *lockHandle) Name() string {
	return lock.name
}

// Extend sets the expiry to ttl from now. Returns false if the lock has
// expired or is owned by someone else.
func (lock *lockHandle) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, lock.locker.client, []string{lock.locker.key(lock.name)}, lock.owner, ttlOf(ttl).Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release deletes the key if it is still owned
func (lock *lockHandle) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, lock.locker.client, []string{lock.locker.key(lock.name)}, lock.owner).Err()
}

func (lock *lockHandle) SetReleaseOnClose(release bool) {
	lock.release.Store(release)
}

func (lock *lockHandle) ReleaseOnClose() bool {
	return lock.release.Load()
}

// Close releases the lock unless release on close has been turned off, in
// which case the key is left to expire
func (lock *lockHandle) Close(ctx context.Context) error {
	if !lock.ReleaseOnClose() {
		return nil
	}
	return lock.Release(ctx)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (l *Locker) key(name string) string {
	return l.prefix + name
}

// ttlOf returns at least one millisecond, since a zero expiry on SET means
// the key never expires
func ttlOf(ttl time.Duration) time.Duration {
	return max(ttl, time.Millisecond)
}
