// Package db embeds the DDL for the job table in each supported dialect.
package db

import _ "embed"

//go:embed migrations/postgres.sql
var PostgresSchema string

//go:embed migrations/sqlite.sql
var SQLiteSchema string
