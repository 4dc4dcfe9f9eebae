package worker

import (
	"context"
	"sync"
	"time"

	// Packages
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// race runs a and b concurrently under a shared child context. When either
// returns, the context is cancelled and race waits for the other to return
// before handing back both results. Neither result is read before its
// goroutine has finished.
func race[A, B any](parent context.Context, a func(context.Context) A, b func(context.Context) B) (A, B) {
	var ra A
	var rb B
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Buffered so the loser never blocks
	done := make(chan struct{}, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ra = a(ctx)
		done <- struct{}{}
	}()
	go func() {
		defer wg.Done()
		rb = b(ctx)
		done <- struct{}{}
	}()

	// First to finish cancels the other, then join both
	<-done
	cancel()
	wg.Wait()

	return ra, rb
}

// sleep waits for d, returning false if the context was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// detach returns a context which is not cancelled with its parent, bounded
// by timeout. Used for gateway calls whose result must not be lost when a
// sibling cancels the scope.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// startSpan starts a span and returns a function which ends it, recording
// the error if any
func startSpan(tracer trace.Tracer, ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
