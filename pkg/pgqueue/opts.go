package pgqueue

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Opt is a function which applies options for a connection pool or client
type Opt func(*opt) error

type opt struct {
	url.Values
	tracer *tracer
	schema string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultPort     = "5432"
	defaultHost     = "localhost"
	defaultDatabase = "postgres"
	defaultMaxConns = "10"
)

var (
	defaultScheme = []string{"postgres", "postgresql"}
	reIdentifier  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

var (
	ErrBadParameter = errors.New("bad parameter")
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func apply(opts ...Opt) (*opt, error) {
	var o opt

	// Set defaults
	o.Values = make(url.Values)
	o.Set("host", defaultHost)
	o.Set("port", DefaultPort)
	o.Set("pool_max_conns", defaultMaxConns)
	o.schema = schema.SchemaName

	// Apply options
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	// Return success
	return &o, nil
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithURL sets connection parameters from a PostgreSQL URL
func WithURL(value string) Opt {
	return func(o *opt) error {
		url, err := parseUrl(value)
		if err != nil {
			return err
		}
		o.Set("host", url.Hostname())
		o.Set("port", url.Port())
		o.Set("dbname", strings.TrimPrefix(url.Path, "/"))
		if user := url.User.Username(); user != "" {
			o.Set("user", user)
		}
		if password, ok := url.User.Password(); ok {
			o.Set("password", password)
		}
		for key, values := range url.Query() {
			for _, v := range values {
				o.Add(key, v)
			}
		}
		return nil
	}
}

// WithCredentials sets the username and password. If the database name is
// not set, the username is used as the database name.
func WithCredentials(user, password string) Opt {
	return func(o *opt) error {
		if user != "" {
			o.Set("user", user)
		}
		if password != "" {
			o.Set("password", password)
		}
		if !o.Has("dbname") && user != "" {
			o.Set("dbname", user)
		}
		return nil
	}
}

// WithDatabase sets the database name
func WithDatabase(name string) Opt {
	return func(o *opt) error {
		if name == "" {
			o.Del("dbname")
		} else {
			o.Set("dbname", name)
		}
		return nil
	}
}

// WithAddr sets the host, or host:port, of the server
func WithAddr(addr string) Opt {
	return func(o *opt) error {
		if !strings.Contains(addr, ":") {
			return WithHostPort(addr, DefaultPort)(o)
		} else if host, port, err := net.SplitHostPort(addr); err != nil {
			return err
		} else {
			return WithHostPort(host, port)(o)
		}
	}
}

// WithHostPort sets the hostname and port of the server
func WithHostPort(host, port string) Opt {
	return func(o *opt) error {
		if host != "" {
			o.Set("host", host)
		}
		if port != "" {
			o.Set("port", port)
		}
		return nil
	}
}

// WithSSLMode sets the SSL mode: "disable", "allow", "prefer", "require",
// "verify-ca" or "verify-full"
func WithSSLMode(mode string) Opt {
	return func(o *opt) error {
		if mode != "" {
			o.Set("sslmode", mode)
		}
		return nil
	}
}

// WithApplicationName sets the name which appears in pg_stat_activity
func WithApplicationName(name string) Opt {
	return func(o *opt) error {
		if name != "" {
			o.Set("application_name", name)
		}
		return nil
	}
}

// WithMaxConns sets the maximum size of the connection pool
func WithMaxConns(n uint) Opt {
	return func(o *opt) error {
		if n == 0 {
			return fmt.Errorf("%w: max connections must be positive", ErrBadParameter)
		}
		o.Set("pool_max_conns", fmt.Sprint(n))
		return nil
	}
}

// WithTrace sets a function which is called on every query
func WithTrace(fn TraceFn) Opt {
	return func(o *opt) error {
		if o.tracer == nil {
			o.tracer = new(tracer)
		}
		o.tracer.TraceFn = fn
		return nil
	}
}

// WithTracer emits an OTEL span for every query
func WithTracer(t trace.Tracer) Opt {
	return func(o *opt) error {
		if o.tracer == nil {
			o.tracer = new(tracer)
		}
		o.tracer.otel = t
		return nil
	}
}

// WithSchema sets the schema which holds the queue, lock and settings
// tables. Defaults to "pgworker".
func WithSchema(name string) Opt {
	return func(o *opt) error {
		if !reIdentifier.MatchString(name) {
			return fmt.Errorf("%w: invalid schema name %q", ErrBadParameter, name)
		}
		o.schema = name
		return nil
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (o *opt) encode(skip ...string) []string {
	// Sort the keys so the connection string is deterministic
	keys := make([]string, 0, len(o.Values))
	for key := range o.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		if slices.Contains(skip, key) {
			continue
		}
		if value := o.Get(key); value != "" {
			parts = append(parts, fmt.Sprintf("%v=%v", key, value))
		}
	}
	return parts
}

// Encode returns the options as a connection string
func (o *opt) Encode() string {
	return strings.Join(o.encode(), " ")
}

func parseUrl(value string) (*url.URL, error) {
	url, err := url.Parse(value)
	if err != nil {
		return nil, err
	}

	// Check scheme
	if url.Scheme == "" {
		url.Scheme = defaultScheme[0]
	} else if !slices.Contains(defaultScheme, url.Scheme) {
		return nil, fmt.Errorf("%w: invalid database scheme %q", ErrBadParameter, url.Scheme)
	}

	// Normalize host:port
	if url.Port() == "" {
		url.Host = net.JoinHostPort(url.Host, DefaultPort)
	}
	host, port, err := net.SplitHostPort(url.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid database host", ErrBadParameter)
	}
	if host == "" {
		host = defaultHost
	}
	url.Host = net.JoinHostPort(host, port)

	// Use the user as the database name if missing
	if url.User != nil {
		if user := url.User.Username(); user != "" && url.Path == "" {
			url.Path = "/" + user
		}
	}
	if url.Path == "" || url.Path == "/" {
		url.Path = "/" + defaultDatabase
	}

	return url, nil
}
