package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	attribute "go.opentelemetry.io/otel/attribute"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PeriodicRunner runs a job at most once per cooldown period across all
// processes sharing a lock provider
type PeriodicRunner struct {
	opts
	name     string
	locker   Locker
	job      Job
	settings SettingsProvider
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPeriodicRunner returns a runner for job. The name is also the name of
// the distributed lock.
func NewPeriodicRunner(name string, locker Locker, job Job, settings SettingsProvider, opt ...Opt) (*PeriodicRunner, error) {
	if name == "" {
		return nil, errors.Join(ErrBadParameter, errors.New("name is empty"))
	}
	if locker == nil || job == nil || settings == nil {
		return nil, errors.Join(ErrBadParameter, errors.New("locker, job and settings are required"))
	}

	o, err := applyOpts(opt)
	if err != nil {
		return nil, err
	}

	// Return success
	return &PeriodicRunner{
		opts:     o,
		name:     name,
		locker:   locker,
		job:      job,
		settings: settings,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Name returns the job name
func (runner *PeriodicRunner) Name() string {
	return runner.name
}

// Run attempts the job once per loop period until the context is
// cancelled. Errors are logged and never end the loop.
func (runner *PeriodicRunner) Run(ctx context.Context) error {
	log := runner.log.With("job", runner.name)
	period := schema.DefaultLoopPeriod

	for ctx.Err() == nil {
		var pause time.Duration
		start := time.Now()

		// Read the settings fresh each time
		settings, err := runner.settings.Settings(ctx)
		if err == nil {
			err = settings.ValidatePeriodic()
		}
		if err != nil {
			runner.metrics.countPeriodic(runner.name, ResultError)
			log.Print(ctx, err)
		} else {
			period = settings.LoopPeriod
			if settings.Enabled {
				pause = runner.runOnce(ctx, settings)
			}
		}

		// Report the pause
		if pause > 0 {
			runner.metrics.setPaused(runner.name, pause)
			log.With("pause", pause.String()).Print(ctx, "pausing")
		}

		// Wait out the rest of the period, or the pause if longer
		sleep(ctx, max(period-time.Since(start), pause))
	}

	// Cancelled
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// runOnce makes one locked attempt at the job and returns any pause the
// job requested
func (runner *PeriodicRunner) runOnce(ctx context.Context, settings schema.Settings) (pause time.Duration) {
	log := runner.log.With("job", runner.name)

	// Nothing escapes an attempt
	defer func() {
		if r := recover(); r != nil {
			runner.metrics.countPeriodic(runner.name, ResultError)
			log.Print(ctx, "panic: ", r)
		}
	}()

	// Acquire the lock
	lock, err := runner.locker.Acquire(ctx, runner.name, settings.LockLeasePeriod)
	if err != nil {
		if ctx.Err() == nil {
			runner.metrics.countPeriodic(runner.name, ResultError)
			log.Print(ctx, "acquire: ", err)
		}
		return 0
	} else if lock == nil {
		runner.metrics.countPeriodic(runner.name, ResultSkipped)
		log.Debug(ctx, "lock held elsewhere")
		return 0
	}

	// Release the lock on exit, unless it has been extended into the cooldown
	defer func() {
		child, cancel := detach(ctx, settings.LockLeasePeriod)
		defer cancel()
		if err := lock.Close(child); err != nil {
			log.Print(ctx, "release: ", err)
		}
	}()

	var jobErr error
	spanCtx, endSpan := startSpan(runner.tracer, ctx, "periodic", attribute.String("job", runner.name))
	defer func() { endSpan(jobErr) }()

	// Race the job against the lock renewer
	renewer := NewLockRenewer(lock, settings.LockLeasePeriod)
	jobErr, renewal := race(spanCtx, func(ctx context.Context) error {
		return runWork(ctx, func(ctx context.Context) error { return runner.job(ctx) })
	}, renewer.Run)

	switch {
	case renewal.State == RenewLost:
		// Exclusivity can't be trusted, discard the result
		jobErr = errors.Join(jobErr, renewal.Err)
		runner.metrics.countPeriodic(runner.name, ResultLost)
		log.Print(ctx, "lock lost: ", renewal.Err)
		return 0
	case jobErr != nil:
		if ctx.Err() == nil {
			runner.metrics.countPeriodic(runner.name, ResultFailure)
			log.With("error", jobErr.Error()).Print(ctx, "job failed")
		}
		return schema.PauseDuration(jobErr)
	}

	// Keep others out for the cooldown
	child, cancel := detach(ctx, settings.LockLeasePeriod)
	defer cancel()
	if ok, err := lock.Extend(child, settings.CooldownPeriod); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%w: %q", schema.ErrLockLost, lock.Name())
		}
		runner.metrics.countPeriodic(runner.name, ResultLost)
		log.Print(ctx, "cooldown: ", err)
		return 0
	}
	lock.SetReleaseOnClose(false)

	runner.metrics.countPeriodic(runner.name, ResultSuccess)
	log.Debug(ctx, "completed")
	return 0
}
