package memory

import (
	"context"
	"sync"
	"time"

	// Packages
	uuid "github.com/google/uuid"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Locker is an in-process distributed lock provider. A lock is held until
// it is released or its expiry passes.
type Locker struct {
	opts
	mu    sync.Mutex
	locks map[string]lockValue
}

type lockValue struct {
	owner     string
	expiresAt time.Time
}

type lockHandle struct {
	sync.Mutex
	locker  *Locker
	name    string
	owner   string
	release bool
}

var _ worker.Locker = (*Locker)(nil)
var _ worker.Lock = (*lockHandle)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewLocker returns a locker with no locks held
func NewLocker(opt ...Opt) *Locker {
	return &Locker{
		opts:  applyOpts(opt),
		locks: make(map[string]lockValue),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCKER

// Acquire returns a lock handle, or nil if the lock is held and has not
// yet expired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (worker.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Held elsewhere
	now := l.now()
	if v, exists := l.locks[name]; exists && v.expiresAt.After(now) {
		return nil, nil
	}

	// Acquire
	owner := uuid.NewString()
	l.locks[name] = lockValue{owner: owner, expiresAt: now.Add(ttl)}

	// Return the handle
	return &lockHandle{
		locker:  l,
		name:    name,
		owner:   owner,
		release: true,
	}, nil
}

// ExpiresAt returns the expiry of a held lock, or false if the lock is not
// held
func (l *Locker) ExpiresAt(name string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, exists := l.locks[name]; exists && v.expiresAt.After(l.now()) {
		return v.expiresAt, true
	}
	return time.Time{}, false
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - LOCK

func (lock *lockHandle) Name() string {
	return lock.name
}

// Extend sets the lock expiry to ttl from now. Returns false if the lock
// is no longer owned.
func (lock *lockHandle) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l := lock.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if v, exists := l.locks[lock.name]; !exists || v.owner != lock.owner || !v.expiresAt.After(now) {
		return false, nil
	}
	l.locks[lock.name] = lockValue{owner: lock.owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release removes the lock if it is still owned
func (lock *lockHandle) Release(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := lock.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, exists := l.locks[lock.name]; exists && v.owner == lock.owner {
		delete(l.locks, lock.name)
	}
	return nil
}

func (lock *lockHandle) SetReleaseOnClose(release bool) {
	lock.Lock()
	defer lock.Unlock()
	lock.release = release
}

func (lock *lockHandle) ReleaseOnClose() bool {
	lock.Lock()
	defer lock.Unlock()
	return lock.release
}

// Close releases the lock unless release on close has been turned off
func (lock *lockHandle) Close(ctx context.Context) error {
	if !lock.ReleaseOnClose() {
		return nil
	}
	return lock.Release(ctx)
}
