package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	memory "github.com/mutablelogic/go-pgworker/pkg/memory"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	prometheus "github.com/prometheus/client_golang/prometheus"
	testutil "github.com/prometheus/client_golang/prometheus/testutil"
	assert "github.com/stretchr/testify/assert"
	rate "golang.org/x/time/rate"
)

////////////////////////////////////////////////////////////////////////////////
// HELPERS

// recorder wraps a gateway and records the calls made to it
type recorder struct {
	worker.Gateway
	sync.Mutex
	receives   int
	receipts   []string
	visibility []time.Duration
	deletes    []string
	poisons    int
	receiveErr error
	extendErr  error
}

func (r *recorder) Receive(ctx context.Context, visibility time.Duration) (*schema.Message, error) {
	r.Lock()
	r.receives++
	err := r.receiveErr
	r.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Gateway.Receive(ctx, visibility)
}

func (r *recorder) ExtendVisibility(ctx context.Context, id, receipt string, visibility time.Duration) (string, error) {
	r.Lock()
	defer r.Unlock()
	r.visibility = append(r.visibility, visibility)
	if r.extendErr != nil {
		return "", r.extendErr
	}
	receipt, err := r.Gateway.ExtendVisibility(ctx, id, receipt, visibility)
	if err == nil {
		r.receipts = append(r.receipts, receipt)
	}
	return receipt, err
}

func (r *recorder) Delete(ctx context.Context, id, receipt string) error {
	r.Lock()
	defer r.Unlock()
	r.deletes = append(r.deletes, receipt)
	return r.Gateway.Delete(ctx, id, receipt)
}

func (r *recorder) SendToPoison(ctx context.Context, body []byte) error {
	r.Lock()
	defer r.Unlock()
	r.poisons++
	return r.Gateway.SendToPoison(ctx, body)
}

func (r *recorder) Receives() int {
	r.Lock()
	defer r.Unlock()
	return r.receives
}

func (r *recorder) Visibility() []time.Duration {
	r.Lock()
	defer r.Unlock()
	return append([]time.Duration(nil), r.visibility...)
}

// start runs r in the background and returns a function which cancels it
// and waits for it to return
func start(t *testing.T, r interface{ Run(context.Context) error }) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
		}
	}
}

func testSettings() schema.Settings {
	settings := schema.DefaultSettings()
	settings.LeasePeriod = 40 * time.Millisecond
	settings.EmptyQueuePollDelay = 5 * time.Millisecond
	settings.MaxDequeueCount = 5
	settings.MessageErrorSleepPeriod = 10 * time.Second
	settings.LoopPeriod = 20 * time.Millisecond
	settings.LockLeasePeriod = 40 * time.Millisecond
	settings.CooldownPeriod = time.Second
	return settings
}

// dequeue receives the next message n times without processing it
func dequeue(t *testing.T, queue *memory.Queue, n int) {
	for range n {
		message, err := queue.Receive(context.TODO(), 0)
		assert.NoError(t, err)
		assert.NotNil(t, message)
	}
}

////////////////////////////////////////////////////////////////////////////////
// TESTS

func Test_MessageLoop_New(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	handler := func(context.Context, *schema.Message) error { return nil }
	settings := worker.Static(testSettings())

	t.Run("Valid", func(t *testing.T) {
		loop, err := worker.NewMessageLoop("test", queue, handler, settings)
		assert.NoError(err)
		assert.Equal("test", loop.Name())
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := worker.NewMessageLoop("", queue, handler, settings)
		assert.ErrorIs(err, worker.ErrBadParameter)
	})

	t.Run("NilHandler", func(t *testing.T) {
		_, err := worker.NewMessageLoop("test", queue, nil, settings)
		assert.ErrorIs(err, worker.ErrBadParameter)
	})

	t.Run("NilLogger", func(t *testing.T) {
		_, err := worker.NewMessageLoop("test", queue, handler, settings, worker.WithLogger(nil))
		assert.ErrorIs(err, worker.ErrBadParameter)
	})

	t.Run("RateLimit", func(t *testing.T) {
		_, err := worker.NewMessageLoop("test", queue, handler, settings, worker.WithRateLimit(rate.NewLimiter(rate.Inf, 1)))
		assert.NoError(err)

		// A limiter with no burst would never let a receive through
		_, err = worker.NewMessageLoop("test", queue, handler, settings, worker.WithRateLimit(rate.NewLimiter(1, 0)))
		assert.ErrorIs(err, worker.ErrBadParameter)
	})
}

func Test_MessageLoop_Success(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue}
	registry := prometheus.NewRegistry()
	metrics, err := worker.NewMetrics(registry)
	assert.NoError(err)

	// The handler outlives several lease renewals
	loop, err := worker.NewMessageLoop("test", gateway, func(ctx context.Context, message *schema.Message) error {
		time.Sleep(110 * time.Millisecond)
		return nil
	}, worker.Static(testSettings()), worker.WithMetrics(metrics))
	assert.NoError(err)

	_, err = queue.Send(context.TODO(), []byte("hello"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	assert.Eventually(func() bool { return queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	stop()

	// Exactly one delete, with the most recent receipt
	gateway.Lock()
	defer gateway.Unlock()
	assert.GreaterOrEqual(len(gateway.receipts), 2)
	if assert.Len(gateway.deletes, 1) {
		assert.Equal(gateway.receipts[len(gateway.receipts)-1], gateway.deletes[0])
	}
	assert.Zero(gateway.poisons)

	assert.NoError(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP pgworker_messages_total Messages processed by result
# TYPE pgworker_messages_total counter
pgworker_messages_total{queue="test",result="success"} 1
`), "pgworker_messages_total"))
	count, err := testutil.GatherAndCount(registry, "pgworker_message_latency_seconds")
	assert.NoError(err)
	assert.Equal(1, count)
}

func Test_MessageLoop_Backoff(t *testing.T) {
	tests := []struct {
		name     string
		previous int
		expected time.Duration
	}{
		{"First", 0, 10 * time.Second},
		{"Second", 1, 20 * time.Second},
		{"Third", 2, 40 * time.Second},
		{"Fifth", 4, 160 * time.Second},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			queue := memory.NewQueue("test")
			gateway := &recorder{Gateway: queue}
			loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
				return errors.New("transient")
			}, worker.Static(testSettings()))
			assert.NoError(err)

			sent, err := queue.Send(context.TODO(), []byte("hello"), 0)
			assert.NoError(err)
			dequeue(t, queue, test.previous)

			stop := start(t, loop)
			assert.Eventually(func() bool { return len(gateway.Visibility()) > 0 }, time.Second, 5*time.Millisecond)
			stop()

			// The message stays in the queue with the backoff visibility
			assert.Equal([]time.Duration{test.expected}, gateway.Visibility())
			message, exists := queue.Get(sent.Id)
			assert.True(exists)
			assert.Equal(uint64(test.previous+1), message.DequeueCount)
			assert.True(message.VisibleAt.After(time.Now().Add(test.expected - time.Second)))
			assert.Equal(1, queue.Len())
			assert.Empty(gateway.deletes)
			assert.Zero(gateway.poisons)
		})
	}
}

func Test_MessageLoop_Poison(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue}
	loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
		return errors.New("transient")
	}, worker.Static(testSettings()))
	assert.NoError(err)

	// The next receive has a dequeue count of 6
	_, err = queue.Send(context.TODO(), []byte("poison"), 0)
	assert.NoError(err)
	dequeue(t, queue, 5)

	stop := start(t, loop)
	assert.Eventually(func() bool { return queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	stop()

	gateway.Lock()
	defer gateway.Unlock()
	assert.Equal(1, gateway.poisons)
	assert.Len(gateway.deletes, 1)
	assert.Empty(gateway.visibility)
	assert.Equal([][]byte{[]byte("poison")}, queue.Poison().Bodies())
}

func Test_MessageLoop_MaxDequeueCount(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue}
	loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
		return errors.New("transient")
	}, worker.Static(testSettings()))
	assert.NoError(err)

	// The next receive has a dequeue count equal to the maximum
	_, err = queue.Send(context.TODO(), []byte("last"), 0)
	assert.NoError(err)
	dequeue(t, queue, 4)

	stop := start(t, loop)
	assert.Eventually(func() bool { return len(gateway.Visibility()) > 0 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal([]time.Duration{160 * time.Second}, gateway.Visibility())
	assert.Equal(1, queue.Len())
	assert.Empty(queue.Poison().Bodies())
}

func Test_MessageLoop_LeaseLost(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue, extendErr: schema.ErrLeaseLost}
	var cancelled atomic.Int32
	loop, err := worker.NewMessageLoop("test", gateway, func(ctx context.Context, _ *schema.Message) error {
		<-ctx.Done()
		cancelled.Add(1)
		return nil
	}, worker.Static(testSettings()))
	assert.NoError(err)

	_, err = queue.Send(context.TODO(), []byte("hello"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	assert.Eventually(func() bool { return cancelled.Load() > 0 }, time.Second, 5*time.Millisecond)
	stop()

	// Only renewals were attempted, the message is left in place
	gateway.Lock()
	defer gateway.Unlock()
	for _, visibility := range gateway.visibility {
		assert.Equal(40*time.Millisecond, visibility)
	}
	assert.Empty(gateway.deletes)
	assert.Zero(gateway.poisons)
	assert.Equal(1, queue.Len())
}

func Test_MessageLoop_Panic(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue}
	loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
		panic("boom")
	}, worker.Static(testSettings()))
	assert.NoError(err)

	_, err = queue.Send(context.TODO(), []byte("hello"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	assert.Eventually(func() bool { return len(gateway.Visibility()) > 0 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal([]time.Duration{10 * time.Second}, gateway.Visibility())
	assert.Equal(1, queue.Len())
}

func Test_MessageLoop_Pause(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	registry := prometheus.NewRegistry()
	metrics, err := worker.NewMetrics(registry)
	assert.NoError(err)

	var mu sync.Mutex
	var calls []time.Time
	loop, err := worker.NewMessageLoop("test", queue, func(context.Context, *schema.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, time.Now())
		if len(calls) == 1 {
			return schema.Pause(200*time.Millisecond, errors.New("throttled"))
		}
		return nil
	}, worker.Static(testSettings()), worker.WithMetrics(metrics))
	assert.NoError(err)

	first, err := queue.Send(context.TODO(), []byte("first"), 0)
	assert.NoError(err)
	_, err = queue.Send(context.TODO(), []byte("second"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	assert.Eventually(func() bool { return queue.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	// The whole loop paused before the second message
	mu.Lock()
	defer mu.Unlock()
	if assert.Len(calls, 2) {
		assert.GreaterOrEqual(calls[1].Sub(calls[0]), 200*time.Millisecond)
	}

	// The paused message still got the normal backoff
	message, exists := queue.Get(first.Id)
	assert.True(exists)
	assert.True(message.VisibleAt.After(time.Now().Add(5 * time.Second)))

	// The pause was reported
	count, err := testutil.GatherAndCount(registry, "pgworker_loop_paused_seconds")
	assert.NoError(err)
	assert.Equal(1, count)
}

func Test_MessageLoop_Idle(t *testing.T) {
	assert := assert.New(t)

	for _, enabled := range []bool{true, false} {
		queue := memory.NewQueue("test")
		registry := prometheus.NewRegistry()
		metrics, err := worker.NewMetrics(registry)
		assert.NoError(err)

		settings := testSettings()
		settings.Enabled = enabled
		loop, err := worker.NewMessageLoop("idle", queue, func(context.Context, *schema.Message) error {
			return nil
		}, worker.Static(settings), worker.WithMetrics(metrics))
		assert.NoError(err)

		// Several empty polls go by
		stop := start(t, loop)
		time.Sleep(50 * time.Millisecond)
		stop()

		// Polling an empty or disabled queue is not a pause
		count, err := testutil.GatherAndCount(registry, "pgworker_loop_paused_seconds")
		assert.NoError(err)
		assert.Zero(count, "enabled=%v", enabled)
	}
}

func Test_MessageLoop_Settings(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	settings := testSettings()
	settings.Enabled = false
	value := worker.NewSettingsValue(settings)

	var calls atomic.Int32
	loop, err := worker.NewMessageLoop("test", queue, func(context.Context, *schema.Message) error {
		calls.Add(1)
		return nil
	}, value)
	assert.NoError(err)

	_, err = queue.Send(context.TODO(), []byte("hello"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	defer stop()

	// Disabled
	time.Sleep(50 * time.Millisecond)
	assert.Zero(calls.Load())
	assert.Equal(1, queue.Len())

	// Enable while running
	enabled := true
	value.Update(schema.SettingsMeta{Enabled: &enabled})
	assert.Eventually(func() bool { return queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(int32(1), calls.Load())
}

func Test_SettingsValue_Zero(t *testing.T) {
	assert := assert.New(t)

	var value worker.SettingsValue
	settings, err := value.Settings(context.TODO())
	assert.NoError(err)
	assert.Equal(schema.DefaultSettings(), settings)

	// Update applies on top of the defaults
	enabled := false
	settings = value.Update(schema.SettingsMeta{Enabled: &enabled})
	assert.False(settings.Enabled)
	assert.Equal(schema.DefaultLeasePeriod, settings.LeasePeriod)

	settings, err = value.Settings(context.TODO())
	assert.NoError(err)
	assert.False(settings.Enabled)
}

func Test_MessageLoop_Errors(t *testing.T) {
	assert := assert.New(t)

	t.Run("Receive", func(t *testing.T) {
		settings := testSettings()
		settings.MessageErrorSleepPeriod = 10 * time.Millisecond
		gateway := &recorder{Gateway: memory.NewQueue("test"), receiveErr: errors.New("unavailable")}
		loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
			return nil
		}, worker.Static(settings))
		assert.NoError(err)

		// The loop keeps trying
		stop := start(t, loop)
		assert.Eventually(func() bool { return gateway.Receives() >= 3 }, time.Second, 5*time.Millisecond)
		stop()
	})

	t.Run("Settings", func(t *testing.T) {
		var reads atomic.Int32
		gateway := &recorder{Gateway: memory.NewQueue("test")}
		loop, err := worker.NewMessageLoop("test", gateway, func(context.Context, *schema.Message) error {
			return nil
		}, worker.SettingsFunc(func(context.Context) (schema.Settings, error) {
			reads.Add(1)
			return schema.Settings{}, nil
		}))
		assert.NoError(err)

		// Invalid settings never reach the gateway
		stop := start(t, loop)
		assert.Eventually(func() bool { return reads.Load() >= 1 }, time.Second, 5*time.Millisecond)
		stop()
		assert.Zero(gateway.Receives())
	})
}

func Test_MessageLoop_Shutdown(t *testing.T) {
	assert := assert.New(t)
	queue := memory.NewQueue("test")
	gateway := &recorder{Gateway: queue}
	started := make(chan struct{})
	loop, err := worker.NewMessageLoop("test", gateway, func(ctx context.Context, _ *schema.Message) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, worker.Static(testSettings()))
	assert.NoError(err)

	_, err = queue.Send(context.TODO(), []byte("hello"), 0)
	assert.NoError(err)

	stop := start(t, loop)
	<-started
	stop()

	// Interrupted messages are left for redelivery
	gateway.Lock()
	defer gateway.Unlock()
	assert.Empty(gateway.deletes)
	assert.Zero(gateway.poisons)
	for _, visibility := range gateway.visibility {
		assert.Equal(40*time.Millisecond, visibility)
	}
	assert.Equal(1, queue.Len())
}
