package sql

import (
	_ "embed"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Objects creates the schema, tables and indexes
//
//go:embed objects.sql
var Objects string

// Queries are the named statements used by the gateway, locker and
// settings provider
//
//go:embed queries.sql
var Queries string
