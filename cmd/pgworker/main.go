package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Packages
	kong "github.com/alecthomas/kong"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	pgqueue "github.com/mutablelogic/go-pgworker/pkg/pgqueue"
	version "github.com/mutablelogic/go-pgworker/pkg/version"
	server "github.com/mutablelogic/go-server"
	logger "github.com/mutablelogic/go-server/pkg/logger"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	// Debug option
	Debug   bool             `name:"debug" help:"Enable debug logging"`
	Version kong.VersionFlag `name:"version" help:"Print version and exit"`

	// Postgres options
	URL    string `name:"url" env:"PG_URL" help:"Database URL" default:"postgres://localhost/postgres"`
	Schema string `name:"schema" env:"PGWORKER_SCHEMA" help:"Database schema" default:"pgworker"`

	// Private fields
	ctx    context.Context
	cancel context.CancelFunc
	log    server.Logger
}

type CLI struct {
	Globals
	RunCommands
	MessageCommands
	SettingsCommands
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := new(CLI)
	ctx := kong.Parse(cli,
		kong.Name("pgworker"),
		kong.Description("at-least-once queue worker and periodic runner"),
		kong.Vars{
			"version": VersionJSON(),
		},
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	// Create the context and cancel function
	cli.Globals.ctx, cli.Globals.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cli.Globals.cancel()

	// Create the logger
	cli.Globals.log = logger.New(os.Stderr, logger.Text, cli.Globals.Debug)

	// Call the Run() method of the selected parsed command.
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// Client connects to the database and returns the pool and client. The
// caller closes the pool.
func (g *Globals) Client() (*pgxpool.Pool, *pgqueue.Client, error) {
	opts := []pgqueue.Opt{
		pgqueue.WithURL(g.URL),
		pgqueue.WithApplicationName(version.ExecName()),
	}
	if g.Debug {
		opts = append(opts, pgqueue.WithTrace(func(ctx context.Context, query string, args any, err error) {
			fmt.Fprintln(os.Stderr, "PG TRACE:", query, args, err)
		}))
	}

	// Create a pool connection
	pool, err := pgqueue.NewPool(g.ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	// Ping the database
	if err := pool.Ping(g.ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Create the client
	client, err := pgqueue.New(g.ctx, pool, pgqueue.WithSchema(g.Schema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Return success
	return pool, client, nil
}
