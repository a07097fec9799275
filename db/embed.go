// Package db carries the embedded SQL schema for the marketplace tables.
package db

import _ "embed"

// Schema holds the DDL for requests, matches, orders, and order_items. Every
// statement is idempotent (IF NOT EXISTS), so the whole file is re-applied on
// each startup.
//
//go:embed migrations/001_schema.sql
var Schema string
