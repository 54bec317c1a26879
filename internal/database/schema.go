package database

import _ "embed"

// schemaSQL is the full DDL for the application database. It is embedded so
// the binary carries its own schema regardless of working directory.
//
//go:embed schema.sql
var schemaSQL string
