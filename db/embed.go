// Package db provides the embedded database schema and seed data.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedProducts is the default catalog, used to seed the database and to
// serve the in-memory catalog when no database is configured.
//
//go:embed seed/products.json
var SeedProducts []byte

// SeedDiscounts is the default discount rule set.
//
//go:embed seed/discounts.json
var SeedDiscounts []byte
