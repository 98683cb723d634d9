// Package db embeds the database schema and the seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Products is the seed catalog in the format read by product.ParseCatalog.
//
//go:embed seed/products.json
var Products []byte
