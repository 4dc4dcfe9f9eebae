package pgqueue

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// queries is a collection of named SQL statements. Statements are separated
// by comment lines of the form "-- <key>".
type queries struct {
	keys    []string
	queries map[string]string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	reQuerySeparator = regexp.MustCompile(`^--\s*([a-zA-Z0-9_.-]+)\s*$`)
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// parseQueries reads named statements from r, replacing ${schema} with the
// schema name
func parseQueries(r io.Reader, schema string) (*queries, error) {
	var key string
	var sql strings.Builder

	scanner := bufio.NewScanner(r)
	self := &queries{
		queries: make(map[string]string),
	}

	// Save the statement accumulated so far
	flush := func() {
		if key != "" {
			self.queries[key] = strings.ReplaceAll(strings.TrimSpace(sql.String()), "${schema}", schema)
			self.keys = append(self.keys, key)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if matches := reQuerySeparator.FindStringSubmatch(line); matches != nil {
			flush()

			// Check for duplicate key
			key = matches[1]
			if _, exists := self.queries[key]; exists {
				return nil, fmt.Errorf("%w: duplicate SQL statement key %q", ErrBadParameter, key)
			}
			sql.Reset()
			continue
		}

		sql.WriteString(line)
		sql.WriteString("\n")
	}
	flush()

	// Check for scanner errors
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Keys returns the statement keys in the order they were parsed
func (q *queries) Keys() []string {
	return q.keys
}

// Get returns a statement by key, or an empty string
func (q *queries) Get(key string) string {
	return q.queries[key]
}

// MustGet returns a statement by key, and panics if it does not exist
func (q *queries) MustGet(key string) string {
	if sql, exists := q.queries[key]; exists {
		return sql
	}
	panic(fmt.Sprintf("missing SQL statement %q", key))
}
