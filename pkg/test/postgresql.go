package test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	// Packages
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	pgqueue "github.com/mutablelogic/go-pgworker/pkg/pgqueue"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Conn is a connection pool shared by the tests in a package. It is nil
// when PG_URL is not set.
type Conn struct {
	*pgxpool.Pool
}

// Schema is a schema created for one test, and dropped on Close
type Schema struct {
	*pgxpool.Pool
	t    testing.TB
	Name string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// Environment variable with the server URL
	EnvURL = "PG_URL"
)

var (
	seq atomic.Uint64
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Main connects to PG_URL if set, runs the tests and closes the pool
func Main(m *testing.M, conn *Conn) {
	if url := os.Getenv(EnvURL); url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool, err := pgqueue.NewPool(ctx, pgqueue.WithURL(url), pgqueue.WithApplicationName("pgworker-test"))
		if err == nil {
			err = pool.Ping(ctx)
		}
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		conn.Pool = pool
	}

	// Run the tests
	code := m.Run()
	if conn.Pool != nil {
		conn.Pool.Close()
	}
	os.Exit(code)
}

// Begin returns a unique schema name for the test, or skips the test when
// there is no server
func (c *Conn) Begin(t testing.TB) *Schema {
	t.Helper()
	if c.Pool == nil {
		t.Skip("set " + EnvURL + " to run PostgreSQL tests")
	}
	name := fmt.Sprintf("test_%s_%d_%d", sanitize(t.Name()), os.Getpid(), seq.Add(1))
	return &Schema{Pool: c.Pool, t: t, Name: name}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Close drops the schema
func (s *Schema) Close() {
	if _, err := s.Exec(context.Background(), `DROP SCHEMA IF EXISTS "`+s.Name+`" CASCADE`); err != nil {
		s.t.Error(err)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// sanitize keeps the characters of a test name allowed in an identifier,
// and truncates it so the schema name fits
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= 32 {
			break
		}
	}
	return b.String()
}
