package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	// Packages
	redis "github.com/go-redis/redis/v8"
	httphandler "github.com/mutablelogic/go-pgworker/pkg/httphandler"
	pgqueue "github.com/mutablelogic/go-pgworker/pkg/pgqueue"
	redislock "github.com/mutablelogic/go-pgworker/pkg/redislock"
	version "github.com/mutablelogic/go-pgworker/pkg/version"
	worker "github.com/mutablelogic/go-pgworker/pkg/worker"
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
	prometheus "github.com/prometheus/client_golang/prometheus"
	collectors "github.com/prometheus/client_golang/prometheus/collectors"
	rate "golang.org/x/time/rate"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type RunCommands struct {
	RunWorker RunCommand `cmd:"" name:"run" help:"Run the worker." group:"WORKER"`
}

type RunCommand struct {
	Queue     string        `name:"queue" env:"PGWORKER_QUEUE" help:"Queue name" default:"default"`
	Exec      string        `name:"exec" help:"Shell command to run for each message, with the body on stdin" required:""`
	Pause     time.Duration `name:"pause" help:"Pause when the command exits with status 75" default:"1m"`
	Retention time.Duration `name:"retention" help:"Purge poison messages older than this" default:"168h"`
	Rate      float64       `name:"rate" help:"Maximum messages received per second, or zero for no limit" default:"0"`
	Redis     string        `name:"redis" env:"REDIS_URL" help:"Redis URL for the cleanup lock, or empty to lock in the database"`

	// HTTP server options
	HTTP struct {
		Addr string `name:"addr" env:"PGWORKER_ADDR" help:"Metrics listen address, or empty to disable" default:":9090"`
	} `embed:"" prefix:"http."`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	// Register metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httphandler.NewQueueCollector(client),
	)
	metrics, err := worker.NewMetrics(registry)
	if err != nil {
		return err
	}

	// Worker options
	opts := []worker.Opt{
		worker.WithLogger(ctx.log),
		worker.WithMetrics(metrics),
	}
	if cmd.Rate > 0 {
		opts = append(opts, worker.WithRateLimit(rate.NewLimiter(rate.Limit(cmd.Rate), 1)))
	}

	// Create the message loop
	loop, err := worker.NewMessageLoop(cmd.Queue, client.Queue(cmd.Queue),
		execHandler(cmd.Exec, cmd.Pause, os.Stdout, os.Stderr),
		client.SettingsProvider(cmd.Queue, schema.DefaultSettings()),
		opts...,
	)
	if err != nil {
		return err
	}

	// Create the poison queue cleanup
	locker, err := cmd.locker(client)
	if err != nil {
		return err
	}
	poison := schema.PoisonQueue(cmd.Queue)
	cleanup, err := worker.NewPeriodicRunner(poison+"-cleanup", locker,
		purgeJob(ctx, client, poison, cmd.Retention),
		client.SettingsProvider(poison, schema.DefaultSettings()),
		opts...,
	)
	if err != nil {
		return err
	}

	// Run the loop, the cleanup and the server concurrently
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result error
	run := func(name string, fn func(context.Context) error) {
		defer wg.Done()
		if err := fn(ctx.ctx); err != nil && !errors.Is(err, context.Canceled) {
			mu.Lock()
			result = errors.Join(result, fmt.Errorf("%s: %w", name, err))
			mu.Unlock()
		}
		ctx.cancel()
	}

	fmt.Println(version.ExecName(), version.Version())
	wg.Add(2)
	go run("worker", loop.Run)
	go run("cleanup", cleanup.Run)

	// Serve metrics
	if cmd.HTTP.Addr != "" {
		router := http.NewServeMux()
		httphandler.RegisterMetricsHandler(router, "/", registry)
		server, err := httpserver.New(cmd.HTTP.Addr, router, nil)
		if err != nil {
			ctx.cancel()
			wg.Wait()
			return err
		}
		fmt.Println("...metrics on", cmd.HTTP.Addr)
		wg.Add(1)
		go run("server", server.Run)
	}

	// Wait for all to finish
	wg.Wait()

	// Terminated message
	if result == nil {
		fmt.Println(version.ExecName(), "terminated")
	}

	// Return any error
	return result
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// locker returns the lock provider for the periodic runner
func (cmd *RunCommand) locker(client *pgqueue.Client) (worker.Locker, error) {
	if cmd.Redis == "" {
		return client.Locker(), nil
	}
	opts, err := redis.ParseURL(cmd.Redis)
	if err != nil {
		return nil, err
	}
	locker, err := redislock.New(redis.NewClient(opts), "")
	if err != nil {
		return nil, err
	}
	return locker, nil
}

// purgeJob returns a job which deletes messages in queue older than retention
func purgeJob(ctx *Globals, client *pgqueue.Client, queue string, retention time.Duration) worker.Job {
	return func(parent context.Context) error {
		n, err := client.Purge(parent, queue, retention)
		if err != nil {
			return err
		}
		if n > 0 {
			ctx.log.With("queue", queue, "count", n).Print(parent, "purged")
		}
		return nil
	}
}
