package pgqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	pgqueue "github.com/mutablelogic/go-pgworker/pkg/pgqueue"
	test "github.com/mutablelogic/go-pgworker/pkg/test"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	assert "github.com/stretchr/testify/assert"
)

// Global connection variable
var conn test.Conn

// Connect to PG_URL if set
func TestMain(m *testing.M) {
	test.Main(m, &conn)
}

func newClient(t *testing.T) (*pgqueue.Client, func()) {
	t.Helper()
	s := conn.Begin(t)
	client, err := pgqueue.New(context.TODO(), s.Pool, pgqueue.WithSchema(s.Name))
	if !assert.NoError(t, err) {
		s.Close()
		t.FailNow()
	}
	return client, s.Close
}

////////////////////////////////////////////////////////////////////////////////
// CLIENT TESTS

func Test_Client_New(t *testing.T) {
	assert := assert.New(t)

	t.Run("NilPool", func(t *testing.T) {
		_, err := pgqueue.New(context.TODO(), nil)
		assert.ErrorIs(err, pgqueue.ErrBadParameter)
	})

	t.Run("Idempotent", func(t *testing.T) {
		s := conn.Begin(t)
		defer s.Close()
		for range 2 {
			client, err := pgqueue.New(context.TODO(), s.Pool, pgqueue.WithSchema(s.Name))
			assert.NoError(err)
			assert.Equal(s.Name, client.Schema())
		}
	})
}

////////////////////////////////////////////////////////////////////////////////
// QUEUE TESTS

func Test_Queue_Lease(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()
	queue := client.Queue("test")

	t.Run("Empty", func(t *testing.T) {
		message, err := queue.Receive(ctx, time.Minute)
		assert.NoError(err)
		assert.Nil(message)
	})

	t.Run("SendReceive", func(t *testing.T) {
		sent, err := queue.Send(ctx, []byte("hello"), 0)
		assert.NoError(err)
		assert.NotEmpty(sent.Id)
		assert.Zero(sent.DequeueCount)

		message, err := queue.Receive(ctx, time.Minute)
		assert.NoError(err)
		if assert.NotNil(message) {
			assert.Equal(sent.Id, message.Id)
			assert.Equal([]byte("hello"), message.Body)
			assert.Equal(uint64(1), message.DequeueCount)
			assert.NotEmpty(message.Receipt)
			assert.NotNil(message.EnqueuedAt)
		}

		// Invisible while leased
		other, err := queue.Receive(ctx, time.Minute)
		assert.NoError(err)
		assert.Nil(other)

		// Extend supersedes the receipt
		receipt, err := queue.ExtendVisibility(ctx, message.Id, message.Receipt, time.Minute)
		assert.NoError(err)
		assert.NotEqual(message.Receipt, receipt)
		_, err = queue.ExtendVisibility(ctx, message.Id, message.Receipt, time.Minute)
		assert.ErrorIs(err, schema.ErrLeaseLost)
		assert.ErrorIs(queue.Delete(ctx, message.Id, message.Receipt), schema.ErrLeaseLost)

		// Delete with the latest receipt
		assert.NoError(queue.Delete(ctx, message.Id, receipt))
		assert.ErrorIs(queue.Delete(ctx, message.Id, receipt), schema.ErrLeaseLost)
	})

	t.Run("Redelivery", func(t *testing.T) {
		sent, err := queue.Send(ctx, []byte("again"), 0)
		assert.NoError(err)

		first, err := queue.Receive(ctx, 0)
		assert.NoError(err)
		second, err := queue.Receive(ctx, time.Minute)
		assert.NoError(err)
		if assert.NotNil(second) {
			assert.Equal(sent.Id, second.Id)
			assert.Equal(uint64(2), second.DequeueCount)
			assert.NotEqual(first.Receipt, second.Receipt)
			assert.NoError(queue.Delete(ctx, second.Id, second.Receipt))
		}
	})

	t.Run("Delayed", func(t *testing.T) {
		_, err := queue.Send(ctx, []byte("later"), time.Hour)
		assert.NoError(err)
		message, err := queue.Receive(ctx, time.Minute)
		assert.NoError(err)
		assert.Nil(message)
	})
}

func Test_Queue_Poison(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()
	queue := client.Queue("test")

	assert.NoError(queue.SendToPoison(ctx, []byte("bad")))
	message, err := queue.Receive(ctx, time.Minute)
	assert.NoError(err)
	assert.Nil(message)

	poison, err := client.Queue("test-poison").Receive(ctx, time.Minute)
	assert.NoError(err)
	if assert.NotNil(poison) {
		assert.Equal([]byte("bad"), poison.Body)
	}

	status, err := client.Status(ctx)
	assert.NoError(err)
	assert.Equal([]schema.QueueStatus{
		{Queue: "test-poison", State: schema.StateInvisible, Count: 1},
	}, status)

	// Purge everything
	n, err := client.Purge(ctx, "test-poison", 0)
	assert.NoError(err)
	assert.Equal(int64(1), n)
}

////////////////////////////////////////////////////////////////////////////////
// LOCK TESTS

func Test_Locker(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()
	locker := client.Locker()

	lock, err := locker.Acquire(ctx, "job", time.Minute)
	assert.NoError(err)
	if !assert.NotNil(lock) {
		t.FailNow()
	}

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
		assert.WithinDuration(time.Now().Add(5*time.Minute), expires, 30*time.Second)
	})

	t.Run("Release", func(t *testing.T) {
		assert.NoError(lock.Release(ctx))
		_, held, err := locker.ExpiresAt(ctx, "job")
		assert.NoError(err)
		assert.False(held)

		// No longer owned
		ok, err := lock.Extend(ctx, time.Minute)
		assert.NoError(err)
		assert.False(ok)
	})

	t.Run("Expired", func(t *testing.T) {
		first, err := locker.Acquire(ctx, "expiring", 0)
		assert.NoError(err)
		assert.NotNil(first)
		second, err := locker.Acquire(ctx, "expiring", time.Minute)
		assert.NoError(err)
		assert.NotNil(second)

		// Releasing the stale handle leaves the new owner alone
		assert.NoError(first.Release(ctx))
		_, held, err := locker.ExpiresAt(ctx, "expiring")
		assert.NoError(err)
		assert.True(held)
	})
}

////////////////////////////////////////////////////////////////////////////////
// SETTINGS TESTS

func Test_Settings(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()
	defaults := schema.DefaultSettings()
	provider := client.SettingsProvider("test", defaults)

	t.Run("Defaults", func(t *testing.T) {
		settings, err := provider.Settings(ctx)
		assert.NoError(err)
		assert.Equal(defaults, settings)
	})

	t.Run("Partial", func(t *testing.T) {
		lease := 45 * time.Second
		count := uint64(3)
		assert.NoError(client.SetSettings(ctx, "test", schema.SettingsMeta{LeasePeriod: &lease}))
		assert.NoError(client.SetSettings(ctx, "test", schema.SettingsMeta{MaxDequeueCount: &count}))

		settings, err := provider.Settings(ctx)
		assert.NoError(err)
		assert.Equal(lease, settings.LeasePeriod)
		assert.Equal(count, settings.MaxDequeueCount)
		assert.Equal(defaults.CooldownPeriod, settings.CooldownPeriod)
	})

	t.Run("Disable", func(t *testing.T) {
		enabled := false
		assert.NoError(client.SetSettings(ctx, "test", schema.SettingsMeta{Enabled: &enabled}))
		settings, err := provider.Settings(ctx)
		assert.NoError(err)
		assert.False(settings.Enabled)
	})

	t.Run("EmptyQueue", func(t *testing.T) {
		assert.ErrorIs(client.SetSettings(ctx, "", schema.SettingsMeta{}), pgqueue.ErrBadParameter)
	})
}

////////////////////////////////////////////////////////////////////////////////
// WORKER TESTS

func Test_MessageLoop(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()
	queue := client.Queue("test")

	settings := schema.DefaultSettings()
	settings.LeasePeriod = 2 * time.Second
	settings.EmptyQueuePollDelay = 10 * time.Millisecond
	settings.MaxDequeueCount = 1

	var calls atomic.Int32
	loop, err := worker.NewMessageLoop("test", queue, func(_ context.Context, message *schema.Message) error {
		calls.Add(1)
		if string(message.Body) == "fail" {
			return errors.New("failed")
		}
		return nil
	}, worker.Static(settings))
	assert.NoError(err)

	_, err = queue.Send(ctx, []byte("ok"), 0)
	assert.NoError(err)
	_, err = queue.Send(ctx, []byte("fail"), 0)
	assert.NoError(err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error)
	go func() { done <- loop.Run(runCtx) }()
	assert.Eventually(func() bool { return calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(<-done)

	// The failed message is backed off, the other is deleted
	status, err := client.Status(ctx)
	assert.NoError(err)
	assert.Equal([]schema.QueueStatus{
		{Queue: "test", State: schema.StateInvisible, Count: 1},
	}, status)
}

func Test_PeriodicRunner(t *testing.T) {
	assert := assert.New(t)
	client, cleanup := newClient(t)
	defer cleanup()
	ctx := context.TODO()

	settings := schema.DefaultSettings()
	settings.LoopPeriod = 20 * time.Millisecond
	settings.LockLeasePeriod = 2 * time.Second
	settings.CooldownPeriod = time.Minute

	// Two runners contend for the same lock
	var calls atomic.Int32
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 2)
	for range 2 {
		runner, err := worker.NewPeriodicRunner("cleanup", client.Locker(), func(context.Context) error {
			calls.Add(1)
			return nil
		}, worker.Static(settings))
		assert.NoError(err)
		go func() { done <- runner.Run(runCtx) }()
	}

	time.Sleep(500 * time.Millisecond)
	cancel()
	assert.NoError(<-done)
	assert.NoError(<-done)
	assert.Equal(int32(1), calls.Load())

	// The lock is held for the cooldown
	expires, held, err := client.Locker().ExpiresAt(ctx, "cleanup")
	assert.NoError(err)
	assert.True(held)
	assert.WithinDuration(time.Now().Add(time.Minute), expires, 10*time.Second)
}
