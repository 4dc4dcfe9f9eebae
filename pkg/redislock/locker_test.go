package redislock_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	redis "github.com/go-redis/redis/v8"
	uuid "github.com/google/uuid"
	redislock "github.com/mutablelogic/go-pgworker/pkg/redislock"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	assert "github.com/stretchr/testify/assert"
)

// newLocker connects to REDIS_URL, or skips the test. Each test uses its
// own key prefix.
func newLocker(t *testing.T) *redislock.Locker {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("set REDIS_URL to run redis tests")
	}
	opts, err := redis.ParseURL(url)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	locker, err := redislock.New(client, "test:"+uuid.NewString()+":")
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return locker
}

func Test_Locker_New(t *testing.T) {
	assert := assert.New(t)
	_, err := redislock.New(nil, "")
	assert.ErrorIs(err, redislock.ErrBadParameter)
}

func Test_Locker_Acquire(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	locker := newLocker(t)

	lock, err := locker.Acquire(ctx, "job", time.Minute)
	assert.NoError(err)
	if !assert.NotNil(lock) {
		t.FailNow()
	}
	assert.Equal("job", lock.Name())

	t.Run("Held", func(t *testing.T) {
		other, err := locker.Acquire(ctx, "job", time.Minute)
		assert.NoError(err)
		assert.Nil(other)
	})

	t.Run("Cooldown", func(t *testing.T) {
		ok, err := lock.Extend(ctx, 5*time.Minute)
		assert.NoError(err)
		assert.True(ok)
		lock.SetReleaseOnClose(false)
		assert.NoError(lock.Close(ctx))

		expires, held, err := locker.ExpiresAt(ctx, "job")
		assert.NoError(err)
		assert.True(held)
		assert.WithinDuration(time.Now().Add(5*time.Minute), expires, 10*time.Second)
	})

	t.Run("Release", func(t *testing.T) {
		assert.NoError(lock.Release(ctx))
		_, held, err := locker.ExpiresAt(ctx, "job")
		assert.NoError(err)
		assert.False(held)

		ok, err := lock.Extend(ctx, time.Minute)
		assert.NoError(err)
		assert.False(ok)
	})

	t.Run("Expired", func(t *testing.T) {
		first, err := locker.Acquire(ctx, "expiring", 10*time.Millisecond)
		assert.NoError(err)
		assert.NotNil(first)
		time.Sleep(50 * time.Millisecond)

		second, err := locker.Acquire(ctx, "expiring", time.Minute)
		assert.NoError(err)
		if assert.NotNil(second) {
			// Releasing the stale handle leaves the new owner alone
			assert.NoError(first.Release(ctx))
			_, held, err := locker.ExpiresAt(ctx, "expiring")
			assert.NoError(err)
			assert.True(held)
			assert.NoError(second.Close(ctx))
		}
	})
}

func Test_Locker_PeriodicRunner(t *testing.T) {
	assert := assert.New(t)
	locker := newLocker(t)

	settings := schema.DefaultSettings()
	settings.LoopPeriod = 20 * time.Millisecond
	settings.LockLeasePeriod = 2 * time.Second
	settings.CooldownPeriod = time.Minute

	// Two runners contend for the same lock
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.TODO())
	done := make(chan error, 2)
	for range 2 {
		runner, err := worker.NewPeriodicRunner("cleanup", locker, func(context.Context) error {
			calls.Add(1)
			return nil
		}, worker.Static(settings))
		assert.NoError(err)
		go func() { done <- runner.Run(ctx) }()
	}

	time.Sleep(300 * time.Millisecond)
	cancel()
	assert.NoError(<-done)
	assert.NoError(<-done)
	assert.Equal(int32(1), calls.Load())
}
