// Package testdb provides helpers for tests that need a real PostgreSQL
// database. Tests skip themselves when no database URL is configured.
//
// The package uses the following environment variables:
//
//   - DATABASE_URL: primary connection string
//   - MEDIASCRIBE_TEST_DB_URL: alternative connection string
//
// Each call to GetTestDB migrates the schema and truncates every table, so
// tests that share a database must not run in parallel.
package testdb
